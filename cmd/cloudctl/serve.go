package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/cloud/internal/middleware"
	"github.com/mx-space/cloud/internal/pkg/proctitle"
	"github.com/mx-space/cloud/internal/rpc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	rpcPrefix       = "/_rpc"
	shutdownTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Deploy, then serve the API gateway",
	Long: `Serve deploys the configured project on the local provider and serves it:
routes under /<project>/<service>, and every registry service as an RPC call
under ` + rpcPrefix + `/<service>, until SIGINT or SIGTERM.

With --restore the routes are not redeployed: the functions are republished
and the route table last activated in redis is served again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.IsDev() {
			gin.SetMode(gin.ReleaseMode)
		}
		logger := newLogger(cfg)
		defer logger.Sync()

		start := deployProject
		if restore, _ := cmd.Flags().GetBool("restore"); restore {
			start = restoreProject
		}
		d, err := start(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer d.provider.Close()

		values := map[string]any{"project": cfg.Project}
		if d.result != nil {
			values["deployment"] = d.result.ID
		}

		if err := proctitle.Set(proctitle.ForProject(cfg.Project)); err != nil {
			logger.Debug("set process title failed", zap.Error(err))
		}

		serverless := d.provider.Serverless
		dispatcher := rpc.NewDispatcher(d.registry, rpc.ForwardLoader(d.registry.Entries(), serverless.Invoke), &rpc.IoConf{
			Logger: logger.Named("rpc"),
			Values: values,
		})

		rpcRouter := gin.New()
		rpcRouter.Use(gin.Recovery(), middleware.Logger(logger), middleware.CORS(cfg.AllowedOrigins, cfg.IsDev()))
		rpc.NewServer(dispatcher, logger.Named("rpc")).RegisterRoutes(rpcRouter.Group(rpcPrefix))

		mux := http.NewServeMux()
		mux.Handle(rpcPrefix+"/", rpcRouter)
		mux.Handle("/", d.provider.Gateway)

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: mux,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("server starting", zap.String("addr", srv.Addr))
			logger.Info("gateway", zap.String("url", "http://localhost"+srv.Addr+"/"+cfg.Project))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case err := <-errCh:
			return fmt.Errorf("server error: %w", err)
		}

		logger.Info("shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("forced shutdown: %w", err)
		}
		logger.Info("server exited")
		return nil
	},
}

func init() {
	serveCmd.Flags().Bool("restore", false, "serve the route table last activated in redis instead of redeploying")
}
