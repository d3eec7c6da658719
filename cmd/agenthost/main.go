package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/antigravity-dev/agenthost/internal/agent"
	"github.com/antigravity-dev/agenthost/internal/approval"
	"github.com/antigravity-dev/agenthost/internal/config"
	"github.com/antigravity-dev/agenthost/internal/cronjobs"
	"github.com/antigravity-dev/agenthost/internal/cryptutil"
	"github.com/antigravity-dev/agenthost/internal/goals"
	"github.com/antigravity-dev/agenthost/internal/identity"
	"github.com/antigravity-dev/agenthost/internal/memory"
	"github.com/antigravity-dev/agenthost/internal/sandboxfs"
	"github.com/antigravity-dev/agenthost/internal/sandboxproc"
	"github.com/antigravity-dev/agenthost/internal/skills"
	"github.com/antigravity-dev/agenthost/internal/store"
	"github.com/antigravity-dev/agenthost/internal/tools"
	"github.com/antigravity-dev/agenthost/internal/vectorstore"
)

// runTrashCommand is the entry point the generated rm/rmdir wrapper
// scripts exec into: it moves each named path into the trash instead
// of unlinking it. rm-style option arguments are ignored.
func runTrashCommand(trashDir, source string, args []string) int {
	if trashDir == "" || len(args) < 1 || args[0] != "delete" {
		fmt.Fprintln(os.Stderr, "usage: agenthost --trash-dir DIR [--source LABEL] trash delete PATH...")
		return 2
	}

	trash, err := sandboxfs.NewTrash(trashDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agenthost trash:", err)
		return 1
	}

	code := 0
	for _, p := range args[1:] {
		if strings.HasPrefix(p, "-") {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, "agenthost trash:", err)
			code = 1
			continue
		}
		if _, err := trash.Delete(abs, source); err != nil {
			fmt.Fprintln(os.Stderr, "agenthost trash:", err)
			code = 1
		}
	}
	return code
}

func configureLogger(logLevel string, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if dev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	if sandboxproc.Init() {
		return
	}

	configPath := flag.String("config", "agenthost.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format instead of JSON (the echo reasoner is used in every mode)")
	once := flag.Bool("once", false, "run a single tick then exit")
	trashDirFlag := flag.String("trash-dir", "", "trash directory for the trash subcommand (used by generated rm/rmdir wrappers)")
	sourceFlag := flag.String("source", "", "source label for the trash subcommand")
	flag.Parse()

	if flag.Arg(0) == "trash" {
		os.Exit(runTrashCommand(*trashDirFlag, *sourceFlag, flag.Args()[1:]))
	}

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	bootLogger.Info("agenthost starting", "config", *configPath)

	cfgMgr, err := config.LoadManager(*configPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgMgr.Get()

	logger := configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.Store.StateDB), 0755); err != nil {
		logger.Error("failed to create state db directory", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Store.VectorDB), 0755); err != nil {
		logger.Error("failed to create vector db directory", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Sandbox.Root, 0755); err != nil {
		logger.Error("failed to create sandbox root", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Sandbox.TrashDir, 0755); err != nil {
		logger.Error("failed to create trash directory", "error", err)
		os.Exit(1)
	}
	casDir := cfg.Skills.CASDir
	if casDir == "" {
		casDir = filepath.Join(cfg.Skills.Dir, ".cas")
	}
	if err := os.MkdirAll(cfg.Skills.Dir, 0755); err != nil {
		logger.Error("failed to create skills directory", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Security.MasterKeyFile), 0700); err != nil {
		logger.Error("failed to create security directory", "error", err)
		os.Exit(1)
	}

	masterKey, err := cryptutil.LoadOrCreateMasterKey(cfg.Security.MasterKeyFile, cryptutil.NoopKeyring{}, cfg.Security.UseKeyring)
	if err != nil {
		logger.Error("failed to load master key", "error", err)
		os.Exit(1)
	}
	encryptor, err := cryptutil.NewEncryptor(masterKey)
	if err != nil {
		logger.Error("failed to build encryptor", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.Store.StateDB)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.Store.StateDB, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	vs, err := vectorstore.Open(cfg.Store.VectorDB, vectorstore.NewHashEmbedder(256))
	if err != nil {
		logger.Error("failed to open vector store", "path", cfg.Store.VectorDB, "error", err)
		os.Exit(1)
	}
	defer vs.Close()

	sandboxRoot, err := sandboxfs.NewRoot(cfg.Sandbox.Root)
	if err != nil {
		logger.Error("failed to open sandbox root", "error", err)
		os.Exit(1)
	}
	trash, err := sandboxfs.NewTrash(cfg.Sandbox.TrashDir)
	if err != nil {
		logger.Error("failed to open trash manager", "error", err)
		os.Exit(1)
	}

	registry := tools.NewRegistry()
	registry.SetRateLimits(tools.RateLimits{PerMinute: cfg.Tools.PerMinuteCap, PerHour: cfg.Tools.PerHourCap})
	mustRegister := func(tool tools.Tool) {
		if err := registry.Register(tool); err != nil {
			logger.Error("failed to register tool", "tool", tool.Name(), "error", err)
			os.Exit(1)
		}
	}
	mustRegister(&tools.FSReadTool{Root: sandboxRoot})
	mustRegister(&tools.FSWriteTool{Root: sandboxRoot})
	mustRegister(&tools.FSDeleteTool{Root: sandboxRoot, Trash: trash})

	blinder := cryptutil.NewBlinder(masterKey)
	identityStore := identity.New(st, encryptor, blinder)
	memoryStore := memory.New(st)
	mustRegister(&tools.CoreMemoryReadTool{Memory: memoryStore})
	mustRegister(&tools.CoreMemoryWriteTool{Memory: memoryStore})
	mustRegister(&tools.MemorySearchTool{Vectors: vs})
	mustRegister(&tools.MemoryRememberTool{Vectors: vs})
	mustRegister(&tools.IdentityLookupTool{Identity: identityStore})

	goalManager := goals.New(st)
	mustRegister(&tools.GoalTool{Goals: goalManager})

	approvalQueue := approval.New(st)
	cronEvaluator := cronjobs.New(st, registry, logger.With("component", "cron"))

	cas, err := skills.NewCAS(cfg.Skills.Dir, casDir)
	if err != nil {
		logger.Error("failed to open skill CAS", "error", err)
		os.Exit(1)
	}
	signingKey, err := skills.LoadOrCreateSigningKey(filepath.Join(filepath.Dir(cfg.Security.MasterKeyFile), "skill_signing.key"), encryptor)
	if err != nil {
		logger.Error("failed to load skill signing key", "error", err)
		os.Exit(1)
	}
	limits := sandboxproc.Limits{
		MaxOpenFiles:    cfg.Skills.ResourceLimits.MaxOpenFiles,
		MaxCPUTime:      time.Duration(cfg.Skills.ResourceLimits.CPUSeconds) * time.Second,
		MaxAddressSpace: cfg.Skills.ResourceLimits.AddressSpaceBytes,
	}
	embedder := &skills.ToolScriptEmbedder{Registry: registry}
	supervisor := skills.NewSupervisor(limits, cfg.Skills.SeccompEnabled, cfg.Skills.Dir, embedder)
	supervisor.SetContainerRunner(skills.NewContainerRunner())
	credentials := skills.NewCredentialStore(st, encryptor, logger.With("component", "skill-credentials"))
	skillManager := skills.NewManager(cas, signingKey, supervisor, credentials, cfg.General.GracefulStopTimeout.Duration, logger.With("component", "skills"))
	skillManager.SetMaxConcurrentSkills(cfg.General.MaxConcurrentSkills)

	wrapperDir := filepath.Join(cfg.Sandbox.TrashDir, "bin")
	if exe, exeErr := os.Executable(); exeErr == nil {
		if err := sandboxfs.WriteShellWrappers(wrapperDir, exe, cfg.Sandbox.TrashDir); err != nil {
			logger.Warn("failed to write trash shell wrappers", "error", err)
		}
	} else {
		logger.Warn("cannot locate own binary, skipping trash shell wrappers", "error", exeErr)
	}

	var reasoner agent.Reasoner
	if *dev {
		reasoner = agent.EchoReasoner{}
	}

	ag := agent.New(st, approvalQueue, skillManager, cronEvaluator, registry, reasoner, logger.With("component", "agent"), agent.Config{
		TickInterval:  cfg.General.TickInterval.Duration,
		ExpirySeconds: cfg.General.ExpirySeconds,
		SkillEnv:      skills.SpawnEnv{WrapperDir: wrapperDir},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		logger.Info("running single tick (--once mode)")
		onceDone := make(chan error, 1)
		go func() { onceDone <- ag.Run(ctx) }()
		ag.ForceTick(ctx)
		cancel()
		if err := <-onceDone; err != nil {
			logger.Error("agent loop exited with error", "error", err)
		}
		logger.Info("single tick complete, exiting")
		return
	}

	runDone := make(chan error, 1)
	go func() { runDone <- ag.Run(ctx) }()

	logger.Info("agenthost running",
		"tick_interval", cfg.General.TickInterval.Duration.String(),
		"skills_dir", cfg.Skills.Dir,
		"sandbox_root", cfg.Sandbox.Root,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case err := <-runDone:
		if err != nil {
			logger.Error("agent loop exited with error", "error", err)
		}
		return
	}

	cancel()
	if err := <-runDone; err != nil {
		logger.Error("agent loop exited with error", "error", err)
	}
	logger.Info("agenthost stopped")
}
