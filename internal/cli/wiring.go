package cli

import (
	"fmt"
	"sync"

	"coddy/internal/affirm"
	"coddy/internal/agent"
	"coddy/internal/clock"
	"coddy/internal/config"
	"coddy/internal/git"
	"coddy/internal/observer"
	"coddy/internal/planner"
	"coddy/internal/platform/github"
	"coddy/internal/ralph"
	"coddy/internal/router"
	"coddy/internal/scheduler"
	"coddy/internal/store"
	"coddy/internal/webhook"
)

func (a *app) store() *store.FileStore {
	return store.NewFileStore(a.cfg.StoreDir(), a.logger().With("component", "store"))
}

func (a *app) platform() (*github.Client, error) {
	c, err := github.New(github.Options{
		Token:  a.cfg.GitHub.Token,
		APIURL: a.cfg.GitHub.APIURL,
		Logger: a.logger(),
	})
	if err != nil {
		return nil, err
	}
	if !c.Available() {
		a.logger().Warn("no GitHub token configured, platform calls will be deferred")
	}
	return c, nil
}

func (a *app) agent() (agent.Agent, error) {
	ac := a.cfg.Agent
	switch ac.Kind {
	case config.AgentStub:
		return agent.Stub{}, nil
	case config.AgentCursor:
		return agent.NewCursorCLI(agent.CursorConfig{
			Command:      ac.Command,
			WorkDir:      a.cfg.Bot.RepoDir,
			Model:        ac.Model,
			OutputFormat: ac.OutputFormat,
			APIKey:       ac.APIKey,
			Timeout:      ac.Timeout,
			PlanTimeout:  ac.PlanTimeout,
			UsePTY:       ac.PTY,
		}, a.logger().With("component", "agent")), nil
	default:
		return nil, fmt.Errorf("unknown agent kind %q", ac.Kind)
	}
}

func (a *app) git() *git.Exec {
	return &git.Exec{
		Dir:         a.cfg.Bot.RepoDir,
		AuthorName:  a.cfg.Bot.Name,
		AuthorEmail: a.cfg.Bot.Email,
		Exclude:     []string{agent.WorkspaceDir},
		Logger:      a.logger().With("component", "git"),
	}
}

// buildObserver wires the webhook server, router, planner and scheduler.
func (a *app) buildObserver() (*observer.Observer, error) {
	cfg := a.cfg
	log := a.logger()
	st := a.store()
	gh, err := a.platform()
	if err != nil {
		return nil, err
	}
	ag, err := a.agent()
	if err != nil {
		return nil, err
	}
	clk := clock.Real()
	var mu sync.Mutex

	pl := &planner.Planner{
		Store:    st,
		Platform: gh,
		Agent:    ag,
		Clock:    clk,
		BotLogin: cfg.Bot.Login,
		Mu:       &mu,
		Logger:   log.With("component", "planner"),
		Tracer:   a.tracer.Tracer("coddy/planner"),
	}
	sched := &scheduler.Scheduler{
		Store:    st,
		Planner:  pl,
		Clock:    clk,
		Idle:     cfg.Scheduler.Idle,
		Interval: cfg.Scheduler.Interval,
		Logger:   log.With("component", "scheduler"),
	}
	rt := &router.Router{
		Store:        st,
		PullRequests: st,
		Reviews:      st,
		Platform:     gh,
		Matcher:      affirm.New(cfg.Bot.Affirmations),
		Clock:        clk,
		BotLogin:     cfg.Bot.Login,
		Mu:           &mu,
		Logger:       log.With("component", "router"),
	}
	if cfg.Scheduler.PlanOnAssign {
		rt.Planner = pl
	}
	handler := &webhook.Handler{
		Secret:     []byte(cfg.Webhook.Secret),
		Dispatcher: rt,
		Clock:      clk,
		Logger:     log.With("component", "webhook"),
	}
	if len(handler.Secret) == 0 {
		log.Warn("webhook secret not set, signatures are not verified")
	}
	server := webhook.NewServer(cfg.Webhook.Addr, cfg.Webhook.Path, handler)

	obs := observer.New(server, sched, a.git(), cfg.Bot.DefaultBranch, log)
	// The worker shares the checkout; never pull under a running loop.
	obs.Busy = func() bool {
		st, err := ralph.ReadStatus(cfg.DataDir)
		return err == nil && st.Busy()
	}
	rt.OnMerged = obs.OnMerged
	return obs, nil
}

// buildWorker wires the picker, loop controller and status file.
func (a *app) buildWorker() (*ralph.Worker, error) {
	cfg := a.cfg
	log := a.logger()
	st := a.store()
	gh, err := a.platform()
	if err != nil {
		return nil, err
	}
	ag, err := a.agent()
	if err != nil {
		return nil, err
	}
	clk := clock.Real()
	g := a.git()

	w := &ralph.Worker{
		Picker: &ralph.Picker{Store: st, Clock: clk, Logger: log},
		Controller: &ralph.Controller{
			Store:         st,
			PullRequests:  st,
			Platform:      gh,
			Agent:         ag,
			Git:           g,
			Clock:         clk,
			MaxIterations: cfg.Ralph.MaxIterations,
			DefaultBranch: cfg.Bot.DefaultBranch,
			CommitEnabled: cfg.Bot.CommitEnabled(),
			Logger:        log.With("component", "ralph"),
			Tracer:        a.tracer.Tracer("coddy/ralph"),
		},
		Reviews: &ralph.ReviewProcessor{
			Reviews:       st,
			Platform:      gh,
			Agent:         ag,
			Git:           g,
			Clock:         clk,
			DefaultBranch: cfg.Bot.DefaultBranch,
			CommitEnabled: cfg.Bot.CommitEnabled(),
			Logger:        log.With("component", "review"),
			Tracer:        a.tracer.Tracer("coddy/ralph"),
		},
		PollInterval: cfg.Worker.PollInterval,
		Status:       ralph.NewStatusWriter(cfg.DataDir),
		Logger:       log,
	}
	if cfg.Worker.Watch {
		// Issues and review comments both wake the worker.
		w.WatchDir = st.Root()
	}
	return w, nil
}
