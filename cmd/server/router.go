package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/devplatform/directory-sync/internal/auth"
	"github.com/devplatform/directory-sync/internal/config"
	"github.com/devplatform/directory-sync/internal/graphql"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/devplatform/directory-sync/internal/prometheus"
	gql "github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/sirupsen/logrus"
)

// maxRequestBytes bounds a GraphQL request body; import tables travel inline.
const maxRequestBytes = 32 << 20

type graphqlRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

// newRouter mounts the API routes and wraps them in the middleware chain.
// The last middleware listed is the outermost.
func newRouter(cfg *config.Config, schema *graphql.Schema, client prometheus.DirectoryInterface, logger *logrus.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/graphql", graphqlHandler(schema, logger))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/ready", readyHandler(client, logger))

	return chain(mux,
		observe(logger),
		auth.NewMiddleware(cfg.JWTSecret, logger).ExtractToken,
		cors(cfg.CORSOrigins),
	)
}

func graphqlHandler(schema *graphql.Schema, logger *logrus.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST, OPTIONS")
			respond(w, http.StatusMethodNotAllowed, requestError("GraphQL requests must be POSTed"))
			return
		}

		var req graphqlRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respond(w, http.StatusRequestEntityTooLarge, requestError("request body too large"))
				return
			}
			respond(w, http.StatusBadRequest, requestError("malformed request: "+err.Error()))
			return
		}

		result := gql.Do(gql.Params{
			Schema:         schema.GetSchema(),
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        r.Context(),
		})
		if result.HasErrors() {
			logger.WithFields(logrus.Fields{
				"operation": req.OperationName,
				"user":      auth.GetUserFromContext(r.Context()),
				"errors":    result.Errors,
			}).Warn("GraphQL errors")
		}
		respond(w, http.StatusOK, result)
	})
}

func readyHandler(client prometheus.DirectoryInterface, logger *logrus.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := models.HealthStatus{Status: "ready", Directory: true, Timestamp: time.Now().Unix()}
		code := http.StatusOK
		if err := client.HealthCheck(ctx); err != nil {
			logger.WithError(err).Warn("Directory readiness check failed")
			status.Status, status.Directory = "unavailable", false
			code = http.StatusServiceUnavailable
		}
		respond(w, code, status)
	})
}

// requestError wraps a transport failure in the GraphQL error envelope
func requestError(message string) *gql.Result {
	return &gql.Result{Errors: []gqlerrors.FormattedError{{Message: message}}}
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
