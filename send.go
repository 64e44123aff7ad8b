package courier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/klipach/courier/auth"
	"github.com/klipach/courier/client"
	"github.com/klipach/courier/config"
	"github.com/klipach/courier/contract"
	"github.com/klipach/courier/dispatch"
	"github.com/klipach/courier/log"
)

const (
	bodyLogField  = "body"
	traceHeader   = "X-Cloud-Trace-Context"
	statusSent    = "sent"
	statusPartial = "partial"
)

// Sender delivers one message between two users.
type Sender interface {
	Send(ctx context.Context, fromID, toID, text string) error
}

var (
	initOnce       sync.Once
	defaultHandler http.Handler
	initErr        error
)

func init() {
	functions.HTTP("Send", Send)
}

// Send is the Cloud Function entry point. Backends are connected on the
// first call and reused.
func Send(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		defaultHandler, initErr = newDefaultHandler(context.Background())
	})
	if initErr != nil {
		log.LoggerFromContext(r.Context()).Error("function not initialized", log.Err(initErr))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defaultHandler.ServeHTTP(w, r)
}

func newDefaultHandler(ctx context.Context) (http.Handler, error) {
	cfg, _, err := config.Load(nil, "")
	if err != nil {
		return nil, err
	}
	logger, _, err := client.NewLogger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c, err := client.New(log.WithLogger(ctx, logger), cfg)
	if err != nil {
		return nil, err
	}
	return NewHandler(c.Verifier, c.Dispatcher, logger), nil
}

type Handler struct {
	verifier auth.TokenVerifier
	sender   Sender
	logger   *slog.Logger
}

func NewHandler(verifier auth.TokenVerifier, sender Sender, logger *slog.Logger) *Handler {
	return &Handler{verifier: verifier, sender: sender, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if traceID, _, _ := strings.Cut(r.Header.Get(traceHeader), "/"); traceID != "" {
		ctx = log.WithTraceID(ctx, traceID)
	}
	logger := h.logger
	if logger == nil {
		logger = log.LoggerFromContext(ctx)
	}
	logger.Info("send function called")

	if r.Method != http.MethodPost {
		logger.Error("invalid method: " + r.Method)
		http.Error(w, "Method Not Implemented", http.StatusNotImplemented)
		return
	}

	token, err := auth.Authenticate(r, h.verifier)
	if err != nil {
		logger.Error("error while authenticating", log.Err(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	logger = logger.With(slog.String(log.UserIDLogField, token.UID))

	data, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("error while reading request body", log.Err(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	logger.Debug("incoming request", slog.String(bodyLogField, string(data)))

	var req contract.SendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		logger.Error("error while decoding request", log.Err(err))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if req.ToID == "" {
		logger.Error("missing recipient")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	logger = logger.With(slog.String(log.PeerIDLogField, req.ToID))
	ctx = log.WithLogger(ctx, logger)

	err = h.sender.Send(ctx, token.UID, req.ToID, req.Text)
	var deliveryErr *dispatch.DeliveryError
	switch {
	case err == nil:
		logger.Info("message sent")
		writeJSON(w, http.StatusOK, contract.SendResponse{Status: statusSent})
	case errors.As(err, &deliveryErr):
		logger.Error("message partially delivered", log.Err(err))
		writeJSON(w, http.StatusBadGateway, contract.SendResponse{
			Status: statusPartial,
			Steps:  deliveryErr.StatusStrings(),
		})
	case errors.Is(err, dispatch.ErrUnknownRecipient):
		logger.Error("unknown recipient", log.Err(err))
		http.Error(w, "Not Found", http.StatusNotFound)
	default:
		logger.Error("error while sending message", log.Err(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
