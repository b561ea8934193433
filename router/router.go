// Package router builds the payment API's HTTP surface once and mounts
// it at the live and (optionally) sandbox roots, each carrying its own
// facilitator, signer pool and ledger scoping.
package router

import (
	"context"
	"net/http"

	"github.com/rs/cors"

	"github.com/txtx/moneymq-go/channels"
	"github.com/txtx/moneymq-go/facilitator"
	"github.com/txtx/moneymq-go/stream"
)

type rootContextKey struct{}

// RootFromContext returns the root identifier ("live" or "sandbox") the
// current request was mounted under.
func RootFromContext(ctx context.Context) string {
	root, _ := ctx.Value(rootContextKey{}).(string)
	return root
}

// RootConfig is everything one mounted root (live or sandbox) needs:
// its own facilitator, gate middleware and channel manager, scoped by
// the facilitator's own is_sandbox flag. The router mounts the facilitator,
// channel and stream handlers; it does not apply Gate to any route.
type RootConfig struct {
	Facilitator     *facilitator.Facilitator
	Gate            func(http.Handler) http.Handler
	ChannelsHandler *channels.Handler
	Stream          *stream.Handler
}

// New builds the composed payment API mux: routes are registered once
// per root (live always, sandbox when non-nil), wrapped with a
// wide-open CORS policy.
func New(live, sandbox *RootConfig) http.Handler {
	mux := http.NewServeMux()
	mountRoot(mux, "/payment/v1", "live", live)
	if sandbox != nil {
		mountRoot(mux, "/payment/v1/sandbox", "sandbox", sandbox)
	}
	return cors.AllowAll().Handler(mux)
}

func mountRoot(mux *http.ServeMux, prefix, rootName string, cfg *RootConfig) {
	if cfg == nil {
		return
	}

	tag := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), rootContextKey{}, rootName)
			h(w, r.WithContext(ctx))
		}
	}

	fh := facilitator.NewHandler(cfg.Facilitator)
	mux.HandleFunc("GET "+prefix+"/supported", tag(fh.ServeSupported))
	mux.HandleFunc("POST "+prefix+"/verify", tag(fh.ServeVerify))
	mux.HandleFunc("POST "+prefix+"/settle", tag(fh.ServeSettle))
	mux.HandleFunc("GET "+prefix+"/admin/transactions", tag(fh.ServeAdminTransactions))
	mux.HandleFunc("GET "+prefix+"/.well-known/jwks.json", tag(fh.ServeJWKS))

	if cfg.ChannelsHandler != nil {
		ch := cfg.ChannelsHandler
		mux.HandleFunc("GET "+prefix+"/channels/transactions", tag(ch.ServeTransactions))
		mux.HandleFunc("GET "+prefix+"/channels/{id}", tag(func(w http.ResponseWriter, r *http.Request) {
			ch.ServeChannel(w, r, r.PathValue("id"))
		}))
		mux.HandleFunc("POST "+prefix+"/channels/{id}/attachments", tag(func(w http.ResponseWriter, r *http.Request) {
			ch.ServeAttachment(w, r, r.PathValue("id"))
		}))
	}

	if cfg.Stream != nil {
		mux.Handle(prefix+"/streams/", http.StripPrefix(prefix+"/streams", cfg.Stream))
	}
}
