// Package schemactl implements the schema descriptor command line tool.
package schemactl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"consulta-go/internal/config"
	"consulta-go/internal/database"
	"consulta-go/internal/schema"
)

// Options are the process-level inputs of the tool.
type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	// LoadConfig defaults to config.Load.
	LoadConfig func(envFile string) (*config.Config, error)
}

type globalFlags struct {
	envFile   string
	schemaDir string
	verbose   bool
}

type runner struct {
	opts  Options
	flags globalFlags
}

// Run executes the tool and returns the process exit code.
func Run(ctx context.Context, args []string, opts Options) int {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.LoadConfig == nil {
		opts.LoadConfig = config.Load
	}

	cmd := NewRootCommand(opts)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// NewRootCommand builds the command tree.
func NewRootCommand(opts Options) *cobra.Command {
	r := &runner{opts: opts}
	root := &cobra.Command{
		Use:           "schemactl",
		Short:         "Exporta e inspeciona descritores de schema por tenant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)
	root.PersistentFlags().StringVar(&r.flags.envFile, "env-file", ".env", "arquivo .env opcional")
	root.PersistentFlags().StringVar(&r.flags.schemaDir, "dir", "", "diretório dos schemas (padrão: SCHEMA_DIR)")
	root.PersistentFlags().BoolVarP(&r.flags.verbose, "verbose", "v", false, "logs detalhados")

	root.AddCommand(r.exportCommand(), r.listCommand(), r.showCommand())
	return root
}

func (r *runner) logger() *zap.Logger {
	level := zapcore.WarnLevel
	if r.flags.verbose {
		level = zapcore.DebugLevel
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(r.opts.Stderr),
		level,
	)
	return zap.New(core)
}

func (r *runner) load() (*config.Config, *schema.Loader, *zap.Logger, error) {
	cfg, err := r.opts.LoadConfig(r.flags.envFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	dir := r.flags.schemaDir
	if dir == "" {
		dir = cfg.App.SchemaDir
	}
	logger := r.logger()
	return cfg, schema.NewLoader(dir, logger), logger, nil
}

func (r *runner) exportCommand() *cobra.Command {
	var (
		tenants     []string
		all         bool
		concurrency int
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Introspecta o PostgreSQL do tenant e grava schemas/{slug}.json",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(tenants) == 0 && !all {
				return errors.New("informe --tenant ou --all")
			}
			cfg, loader, logger, err := r.load()
			if err != nil {
				return err
			}
			if all {
				tenants = cfg.Database.TenantSlugs()
				sort.Strings(tenants)
			}
			if len(tenants) == 0 {
				return errors.New("nenhum tenant configurado")
			}

			manager, err := database.NewManager(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer manager.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return exportTenants(ctx, manager, loader, tenants, concurrency, cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().StringSliceVarP(&tenants, "tenant", "t", nil, "tenant a exportar (repetível)")
	cmd.Flags().BoolVar(&all, "all", false, "exporta todos os tenants configurados")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "tenants introspectados em paralelo")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "tempo máximo da exportação")
	return cmd
}

func exportTenants(ctx context.Context, manager *database.Manager, loader *schema.Loader, tenants []string, concurrency int, out io.Writer, logger *zap.Logger) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]string, len(tenants))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, slug := range tenants {
		g.Go(func() error {
			pool, err := manager.Pool(gctx, slug)
			if err != nil {
				return fmt.Errorf("tenant %s: %w", slug, err)
			}
			d, err := schema.NewIntrospector(pool, nil, logger).Introspect(gctx, slug)
			if err != nil {
				return fmt.Errorf("tenant %s: %w", slug, err)
			}
			if err := loader.Save(d); err != nil {
				return fmt.Errorf("tenant %s: %w", slug, err)
			}
			results[i] = fmt.Sprintf("%s: %d tabelas exportadas", slug, len(d.TableNames()))
			return nil
		})
	}
	err := g.Wait()
	for _, line := range results {
		if line != "" {
			_, _ = fmt.Fprintln(out, line)
		}
	}
	return err
}

func (r *runner) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lista os schemas disponíveis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, loader, _, err := r.load()
			if err != nil {
				return err
			}
			slugs, err := loader.List()
			if err != nil {
				return err
			}
			for _, slug := range slugs {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), slug)
			}
			return nil
		},
	}
}

func (r *runner) showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <slug>",
		Short: "Mostra o descritor de um schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, loader, _, err := r.load()
			if err != nil {
				return err
			}
			d, err := loader.Load(args[0])
			if err != nil {
				return err
			}
			data, err := schema.Encode(d)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
