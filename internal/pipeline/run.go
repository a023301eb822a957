package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jarvus/sencha-buildd/internal"
	"github.com/jarvus/sencha-buildd/internal/buildtool"
	"github.com/jarvus/sencha-buildd/internal/git"
	"github.com/jarvus/sencha-buildd/internal/webhook"
)

const (
	stageGetCommits             = "getCommits"
	stageGetAppName             = "getAppName"
	stageGetEnvironment         = "getEnvironment"
	stageCheckoutBuild          = "checkoutBuild"
	stageCreateExecuteCommit    = "createExecuteCommit"
	stageGetCmdConfig           = "getCmdConfig"
	stageExecuteCmd             = "executeCmd"
	stageWriteBuildTree         = "writeBuildTree"
	stageWriteManifest          = "writeManifest"
	stageAddManifestToBuildTree = "addManifestToBuildTree"
	stageCommitBuild            = "commitBuild"

	// ManifestPath is where the manifest blob is placed in the output tree.
	ManifestPath = "build.manifest"
)

var (
	logPattern      = regexp.MustCompile(`^([a-f0-9]{40}) (.*)$`)
	generatePattern = regexp.MustCompile(`^Generate `)
)

type commit struct {
	hash    string
	message string
}

// run holds the state of one pipeline run. Each field is written by a single
// stage and read only by stages that depend on it.
type run struct {
	builder *Builder
	id      internal.BuildID
	log     internal.Writer
	cleanup *internal.CleanupManager

	commits       []commit
	generateOK    bool
	appName       string
	env           git.Repository
	workTree      string
	executeCommit string
	invocation    buildtool.Invocation
	cmdOutput     string
	buildTree     string
	manifest      string
	outputTree    string
	outputCommit  string
}

func newRun(b *Builder, id internal.BuildID) *run {
	logger := b.options.Writer.WithField("build", id.String())

	return &run{
		builder: b,
		id:      id,
		log:     logger,
		cleanup: internal.NewCleanupManager(logger),
	}
}

func (r *run) stages() []Stage {
	return []Stage{
		{Name: stageGetCommits, Run: r.getCommits},
		{Name: stageGetAppName, Run: r.getAppName},
		{Name: stageGetEnvironment, Run: r.getEnvironment},
		{
			Name:  stageCheckoutBuild,
			Needs: []string{stageGetCommits, stageGetEnvironment},
			Run:   r.checkoutBuild,
		},
		{
			Name:  stageCreateExecuteCommit,
			Needs: []string{stageGetCommits, stageGetEnvironment, stageCheckoutBuild, stageGetAppName},
			Run:   r.createExecuteCommit,
		},
		{
			Name:  stageGetCmdConfig,
			Needs: []string{stageCheckoutBuild},
			Run:   r.getCmdConfig,
		},
		{
			Name:  stageExecuteCmd,
			Needs: []string{stageCreateExecuteCommit, stageGetCmdConfig},
			Run:   r.executeCmd,
		},
		{
			Name:  stageWriteBuildTree,
			Needs: []string{stageGetEnvironment, stageExecuteCmd},
			Run:   r.writeBuildTree,
		},
		{
			Name:  stageWriteManifest,
			Needs: []string{stageCheckoutBuild, stageWriteBuildTree},
			Run:   r.writeManifest,
		},
		{
			Name:  stageAddManifestToBuildTree,
			Needs: []string{stageGetEnvironment, stageWriteManifest},
			Run:   r.addManifestToBuildTree,
		},
		{
			Name: stageCommitBuild,
			Needs: []string{
				stageGetEnvironment,
				stageGetAppName,
				stageGetCmdConfig,
				stageCreateExecuteCommit,
				stageExecuteCmd,
				stageAddManifestToBuildTree,
			},
			Run: r.commitBuild,
		},
	}
}

func (r *run) getCommits(ctx context.Context) error {
	output, err := r.builder.repo.Run(ctx, "log", "--pretty=oneline", r.id.Ref())
	if err != nil {
		return err
	}

	for _, line := range strings.Split(output, "\n") {
		match := logPattern.FindStringSubmatch(line)
		if match == nil {
			break
		}
		r.commits = append(r.commits, commit{hash: match[1], message: match[2]})
	}

	if len(r.commits) == 0 {
		return &PreconditionError{BuildID: r.id, Message: "branch has no commits"}
	}
	if !generatePattern.MatchString(r.commits[0].message) {
		return &PreconditionError{BuildID: r.id, Message: "branch is not in Generate state"}
	}
	r.generateOK = true

	return nil
}

// precondition reports the branch state error when the branch was not
// confirmed to be in the Generate state, even when an independent stage
// failed first. Only call it after the graph has stopped.
func (r *run) precondition(ctx context.Context) error {
	if r.generateOK {
		return nil
	}

	r.commits = nil
	var precondition *PreconditionError
	if err := r.getCommits(ctx); errors.As(err, &precondition) {
		return &StageError{Stage: stageGetCommits, Err: precondition}
	}

	return nil
}

func (r *run) getAppName(ctx context.Context) error {
	output, err := r.builder.repo.Run(ctx, "cat-file", "blob", r.id.String()+":app.name")
	if err != nil {
		return err
	}

	r.appName = strings.TrimSpace(output)
	if r.appName == "" {
		return &PreconditionError{BuildID: r.id, Message: "app.name is empty"}
	}

	return nil
}

func (r *run) getEnvironment(ctx context.Context) error {
	root, err := os.MkdirTemp(r.builder.options.TempDir, "sencha-build-*")
	if err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	r.cleanup.AddPath(root)

	r.workTree = filepath.Join(root, "tree")
	if err := os.Mkdir(r.workTree, 0o755); err != nil {
		return fmt.Errorf("failed to create work tree: %w", err)
	}

	r.env = r.builder.repo.WithEnv(map[string]string{
		"GIT_WORK_TREE":  r.workTree,
		"GIT_INDEX_FILE": filepath.Join(root, "index"),
	})

	return nil
}

func (r *run) checkoutBuild(ctx context.Context) error {
	if _, err := r.env.Run(ctx, "read-tree", "--reset", "-u", r.commits[0].hash); err != nil {
		return err
	}

	return r.dispatch(ctx, webhook.EventCheckoutBuildTree, webhook.Payload{
		"buildTreePath": r.workTree,
	})
}

func (r *run) createExecuteCommit(ctx context.Context) error {
	generate := r.commits[0].hash

	output, err := r.env.Run(ctx,
		"commit-tree", generate+"^{tree}",
		"-p", generate,
		"-m", "Execute Sencha CMD to build app "+r.appName,
	)
	if err != nil {
		return err
	}
	r.executeCommit = strings.TrimSpace(output)

	if err := r.builder.updateRef(ctx, r.id, r.executeCommit, generate); err != nil {
		return err
	}
	r.log.Printf("created execute commit %s", r.executeCommit)

	return r.dispatch(ctx, webhook.EventCommitExecute, webhook.Payload{
		"appName":           r.appName,
		"buildTreePath":     r.workTree,
		"executeCommitHash": r.executeCommit,
	})
}

func (r *run) getCmdConfig(ctx context.Context) error {
	r.invocation = buildtool.Invocation{
		Dir: filepath.Join(r.workTree, "app"),
		Args: internal.Command{
			"ant",
			"-Dapp.output.base=" + filepath.Join(r.workTree, "build"),
			"-Dbuild.temp.dir=" + filepath.Join(r.workTree, "temp"),
			"-Dapp.cache.deltas=false",
			"-Dapp.output.microloader.enable=false",
			"-Dbuild.css.selector.limit=0",
			"production",
			"build",
			".props",
		},
	}

	return nil
}

func (r *run) executeCmd(ctx context.Context) error {
	output, err := r.builder.options.Tool.Submit(ctx, r.invocation)
	if err != nil {
		return err
	}
	r.cmdOutput = output

	return nil
}

func (r *run) writeBuildTree(ctx context.Context) error {
	if _, err := r.env.Run(ctx, "add", "-A", "--", "build", "app"); err != nil {
		return err
	}

	output, err := r.env.Run(ctx, "write-tree")
	if err != nil {
		return err
	}
	r.buildTree = strings.TrimSpace(output)

	return nil
}

func (r *run) writeManifest(ctx context.Context) error {
	hash, err := r.builder.options.Manifest.Generate(ctx, r.buildTree+":build")
	if err != nil {
		return err
	}
	r.manifest = hash

	return nil
}

func (r *run) addManifestToBuildTree(ctx context.Context) error {
	_, err := r.env.Run(ctx, "update-index", "--add", "--cacheinfo", "100644,"+r.manifest+","+ManifestPath)
	if err != nil {
		return err
	}

	output, err := r.env.Run(ctx, "write-tree")
	if err != nil {
		return err
	}
	r.outputTree = strings.TrimSpace(output)

	return nil
}

func (r *run) commitBuild(ctx context.Context) error {
	message := r.commitMessage()

	output, err := r.env.RunWithInput(ctx, strings.NewReader(message),
		"commit-tree", r.outputTree, "-p", r.executeCommit,
	)
	if err != nil {
		return err
	}
	outputCommit := strings.TrimSpace(output)

	if err := r.builder.updateRef(ctx, r.id, outputCommit, r.executeCommit); err != nil {
		return err
	}
	r.outputCommit = outputCommit

	return r.dispatch(ctx, webhook.EventCommitOutput, webhook.Payload{
		"appName":           r.appName,
		"buildTreePath":     r.workTree,
		"executeCommitHash": r.executeCommit,
		"outputCommitHash":  r.outputCommit,
	})
}

func (r *run) commitMessage() string {
	return fmt.Sprintf("Build app %s for production\n\nExecuted command: `%s %s`\n\n    %s",
		r.appName,
		buildtool.ExecutableName,
		strings.Join(r.invocation.Args, " "),
		strings.ReplaceAll(r.cmdOutput, "\n", "\n    "),
	)
}

func (r *run) dispatch(ctx context.Context, event string, payload webhook.Payload) error {
	if r.builder.options.Hooks == nil {
		return nil
	}

	return r.builder.options.Hooks.Dispatch(ctx, r.id, event, payload)
}
