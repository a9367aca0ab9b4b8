package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	daemon "github.com/sevlyar/go-daemon"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/llm"
	. "github.com/modelgate/modelgate/internal/logging"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/paths"
	"github.com/modelgate/modelgate/internal/service"
	"github.com/modelgate/modelgate/internal/state"
)

const version = "0.1.0"

// CmdContext carries shared dependencies into command Run methods.
type CmdContext struct {
	Config *config.Config
}

type CLI struct {
	Debug bool `help:"Enable debug logging."`

	Serve   ServeCmd   `cmd:"" help:"Run the gateway service (sync endpoint + maintenance jobs)."`
	State   StateCmd   `cmd:"" help:"Read or write the shared provider/model state."`
	Select  SelectCmd  `cmd:"" help:"Pick the best admissible model for a task."`
	Stats   StatsCmd   `cmd:"" help:"Show gateway error statistics."`
	Version VersionCmd `cmd:"" help:"Print the version."`
}

// ServeCmd runs the long-lived service process.
type ServeCmd struct {
	Daemon bool `short:"d" help:"Detach and run in the background."`
}

func (c *ServeCmd) Run(cctx *CmdContext) error {
	if c.Daemon {
		pidPath, err := paths.PidPath()
		if err != nil {
			return err
		}
		logPath, err := paths.DataPath("modelgate.log")
		if err != nil {
			return err
		}
		if err := paths.EnsureParentDir(pidPath); err != nil {
			return err
		}

		dctx := &daemon.Context{
			PidFileName: pidPath,
			PidFilePerm: 0644,
			LogFileName: logPath,
			LogFilePerm: 0640,
			Umask:       027,
		}
		child, err := dctx.Reborn()
		if err != nil {
			return fmt.Errorf("failed to daemonize: %w", err)
		}
		if child != nil {
			fmt.Printf("modelgate service started (pid %d)\n", child.Pid)
			return nil
		}
		defer dctx.Release()
	}

	svc, err := service.New(cctx.Config)
	if err != nil {
		return err
	}
	return svc.Run()
}

// StateCmd groups the state subcommands.
type StateCmd struct {
	Get StateGetCmd `cmd:"" help:"Print the current provider/model record."`
	Set StateSetCmd `cmd:"" help:"Update the current provider/model record."`
}

type StateGetCmd struct{}

func (c *StateGetCmd) Run(cctx *CmdContext) error {
	client, err := newStateClient(cctx.Config)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, source, err := client.Get(ctx)
	if err != nil {
		return err
	}

	return printJSON(map[string]string{
		"provider":     rec.Provider,
		"model_id":     rec.ModelID,
		"last_updated": rec.LastUpdated,
		"source":       string(source),
	})
}

type StateSetCmd struct {
	Provider string `arg:"" help:"Provider name."`
	Model    string `arg:"" help:"Model identifier."`
}

func (c *StateSetCmd) Run(cctx *CmdContext) error {
	client, err := newStateClient(cctx.Config)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Set(ctx, c.Provider, c.Model); err != nil {
		return err
	}

	fmt.Printf("state updated: %s/%s\n", c.Provider, c.Model)
	return nil
}

// SelectCmd shows which model the gateway would pick for a task.
type SelectCmd struct {
	Task string `arg:"" default:"chat" help:"Task type (chat, summarize, classify)."`
}

func (c *SelectCmd) Run(cctx *CmdContext) error {
	gateway, err := llm.NewGateway(cctx.Config)
	if err != nil {
		return err
	}

	sel := gateway.SelectModel(llm.TaskType(c.Task))
	if sel.Model.ID == "" {
		return fmt.Errorf("no models registered for task %q", c.Task)
	}

	return printJSON(map[string]interface{}{
		"model_id": sel.Model.ID,
		"provider": sel.Model.Provider,
		"degraded": sel.Degraded,
	})
}

// StatsCmd prints the persisted error statistics.
type StatsCmd struct {
	Reset bool `help:"Reset the statistics after printing."`
}

func (c *StatsCmd) Run(cctx *CmdContext) error {
	stats := metrics.NewErrorStats()
	manager := metrics.NewManager(stats)
	manager.InitPersistence()
	defer manager.Close()

	if err := printJSON(stats.Snapshot()); err != nil {
		return err
	}

	if c.Reset {
		stats.Reset()
		if err := manager.Save(); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "statistics reset")
	}
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run(cctx *CmdContext) error {
	fmt.Printf("modelgate %s\n", version)
	return nil
}

// newStateClient builds the HTTP-first, file-fallback state client.
func newStateClient(cfg *config.Config) (*state.Client, error) {
	store, err := state.NewDefaultStore()
	if err != nil {
		return nil, err
	}
	return state.NewClient("http://"+cfg.Server.Listen, store), nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("modelgate"),
		kong.Description("LLM request gateway: model selection, rate budgets, retries, and shared state."),
		kong.UsageOnError(),
	)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := cfg.LogLevel()
	if cli.Debug {
		level = LevelDebug
	}
	Init(&Config{Level: level, ShowCaller: true})

	L_debug("modelgate %s starting", version)

	if err := kctx.Run(&CmdContext{Config: cfg}); err != nil {
		L_fatal("command failed: %v", err)
	}
}
