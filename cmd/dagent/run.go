package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/cuemby/dagent/pkg/agentlog"
	"github.com/cuemby/dagent/pkg/bootstrap"
	"github.com/cuemby/dagent/pkg/deploytask"
	"github.com/cuemby/dagent/pkg/document"
	"github.com/cuemby/dagent/pkg/domain"
	"github.com/cuemby/dagent/pkg/finisher"
	"github.com/cuemby/dagent/pkg/groups"
	"github.com/cuemby/dagent/pkg/hostupdate"
	events "github.com/cuemby/dagent/pkg/lifecycle"
	"github.com/cuemby/dagent/pkg/merger"
	"github.com/cuemby/dagent/pkg/metrics"
	"github.com/cuemby/dagent/pkg/orchestrator"
	packagemgrfake "github.com/cuemby/dagent/pkg/packagemgr/fake"
	"github.com/cuemby/dagent/pkg/queue"
	safetyfake "github.com/cuemby/dagent/pkg/safety/fake"
	"github.com/cuemby/dagent/pkg/status"
	"github.com/cuemby/dagent/pkg/storage"
	supervisorfake "github.com/cuemby/dagent/pkg/supervisor/fake"
	"github.com/cuemby/dagent/pkg/workspace"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the deployment agent",
	Long: `run starts the deployment queue, orchestrator, and supporting components
and blocks until SIGINT/SIGTERM.

The supervisor, package manager, and safety-window adapters this command
wires are this module's in-memory reference implementations; a real agent
plugs its own platform adapters.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("local-deployment", "", "Path to a local override document (YAML) to queue at startup")
}

func runRun(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Println("Starting dagent...")
	fmt.Printf("  Data directory: %s\n", cfg.DataDir)
	fmt.Printf("  Metrics:        http://%s/metrics\n", cfg.MetricsAddr)

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	sup := supervisorfake.New()
	pkgMgr := packagemgrfake.New()
	safe := safetyfake.New()

	ws := workspace.New(cfg.DataDir, sup)
	grp := groups.New(store, sup)
	keeper := status.New(store)
	broker := events.NewBroker()
	broker.Start()

	q := queue.New()

	defaultActivator := &merger.DefaultActivator{Supervisor: sup, Workspace: ws}
	hostAgentTask := &hostupdate.Task{
		Workspace:      ws,
		Supervisor:     sup,
		NucleusWorkDir: cfg.NucleusWorkDir,
	}

	mrg := &merger.Merger{
		Supervisor:      sup,
		Safety:          safe,
		Default:         defaultActivator,
		HostAgentUpdate: hostAgentTask,
		Bootstrap:       &bootstrap.Checker{SelfComponentName: cfg.SelfComponentName},
	}

	task := &deploytask.Task{PackageMgr: pkgMgr, Merger: mrg}

	fin := &finisher.Finisher{
		Workspace: ws,
		Groups:    grp,
		Status:    keeper,
		Store:     store,
		Events:    broker,
	}

	orch := &orchestrator.Orchestrator{
		Queue:        q,
		Workspace:    ws,
		Groups:       grp,
		HostUpdate:   hostAgentTask,
		Task:         task,
		Finisher:     fin,
		Status:       keeper,
		Events:       broker,
		Store:        store,
		PollInterval: cfg.PollInterval,
	}

	collector := metrics.NewCollector(q)
	collector.Start()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("storage", true, "open")
	metrics.RegisterComponent("queue", true, "ready")
	metrics.RegisterComponent("supervisor", true, "ready")
	metrics.RegisterComponent("orchestrator", true, "idle")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	fmt.Println("✓ Orchestrator started")

	if localPath, _ := cmd.Flags().GetString("local-deployment"); localPath != "" {
		if err := queueLocalDeployment(q, localPath); err != nil {
			log.Errorf("queue local deployment: %v", err)
		}
	}

	fmt.Println("dagent is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nShutting down...")

	orch.Stop()
	collector.Stop()
	broker.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	if err := store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}

// localOverrideFile is the on-disk shape of a --local-deployment document: a
// thin YAML wrapper over document.LocalOverrideRequest's fields.
type localOverrideFile struct {
	CurrentRoots       []domain.RootComponent `yaml:"currentRoots"`
	ComponentsToMerge  []domain.RootComponent `yaml:"componentsToMerge"`
	ComponentsToRemove []string               `yaml:"componentsToRemove"`
	KnownDependencies  []string               `yaml:"knownDependencies"`
}

// queueLocalDeployment converts a local override document and offers it to
// q as a LOCAL deployment, generating its identity the way a CLI-driven
// local deployment (one with no cloud-assigned job ID) must: a fresh UUID.
func queueLocalDeployment(q *queue.DeploymentQueue, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file localOverrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}

	known := make(map[string]bool, len(file.KnownDependencies))
	for _, name := range file.KnownDependencies {
		known[name] = true
	}

	doc, err := document.ConvertLocalOverride(document.LocalOverrideRequest{
		CurrentRoots:       file.CurrentRoots,
		ComponentsToMerge:  file.ComponentsToMerge,
		ComponentsToRemove: file.ComponentsToRemove,
	}, known)
	if err != nil {
		return err
	}

	d := &domain.Deployment{
		DeploymentID:     uuid.NewString(),
		ConfigurationArn: "local:" + doc.GroupName,
		Type:             domain.TypeLocal,
		Stage:            domain.StageDefault,
		Document:         doc,
	}
	_, err = q.Offer(d)
	return err
}
