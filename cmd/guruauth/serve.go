package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	auth "github.com/shreegurucool/auth-go"
	"github.com/shreegurucool/auth-go/internal/bootstrap"
	"github.com/shreegurucool/auth-go/middleware/ginmw"
)

func serveCmd(g *globals) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a gated demo app backed by the current session",
		Long: `Serve a small web app whose pages are gated by the session.

Routes:
  /welcome          public entry page
  /home             requires an authenticated identity
  /home/stats       learner dashboard stats fetched through the gateway
  /home/mentor      mentors and admins only
  /metrics          Prometheus metrics (with GURU_METRICS_ENABLED=true)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := g.runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			srv := &http.Server{Addr: addr, Handler: newRouter(rt)}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			success("Listening on %s", addr)

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	return cmd
}

func newRouter(rt *bootstrap.Runtime) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(rt.Gate.EntryPath(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Welcome. Sign in to continue."})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	home := r.Group("/home", ginmw.Gate(rt.Gate))
	home.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": ginmw.GetIdentity(c)})
	})
	home.GET("/stats", func(c *gin.Context) {
		var stats map[string]any
		if err := rt.Gateway.Get(c.Request.Context(), "/student/dashboard-stats", &stats); err != nil {
			status := auth.StatusOf(err)
			if status == 0 {
				status = http.StatusBadGateway
			}
			c.JSON(status, gin.H{"message": auth.MessageOf(err)})
			return
		}
		c.JSON(http.StatusOK, stats)
	})
	home.GET("/mentor", ginmw.RequireRole(auth.RoleMentor, auth.RoleAdmin), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Mentor tools"})
	})
	return r
}
