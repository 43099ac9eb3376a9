package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phax/phoss-directory-sub000/internal/businesscard"
	pderrors "github.com/phax/phoss-directory-sub000/internal/errors"
	"github.com/phax/phoss-directory-sub000/internal/store"
)

// Result reports the outcome of a single work item execution.
type Result struct {
	Success bool
	// Fatal marks failures that must not be retried (e.g. an unknown
	// action). Only meaningful when Success is false.
	Fatal    bool
	Messages []string
}

// Executor performs the storage side effect for one work item.
type Executor struct {
	store    *store.Manager
	provider businesscard.Provider
	logger   *slog.Logger
}

func NewExecutor(st *store.Manager, provider businesscard.Provider, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: st, provider: provider, logger: logger}
}

// Execute runs one work item against the provider and the store.
// retryCount is 0 for the first attempt.
func (e *Executor) Execute(ctx context.Context, item WorkItem, retryCount int) Result {
	log := e.logger.With(
		slog.String("participant", item.Participant.String()),
		slog.String("action", string(item.Action)),
		slog.Int("retry", retryCount),
	)

	switch item.Action {
	case ActionCreateUpdate:
		return e.createUpdate(ctx, item, log)
	case ActionDelete:
		return e.delete(ctx, item, log, true)
	case ActionSync:
		return e.sync(ctx, item, log)
	default:
		log.Error("unknown indexing action")
		return Result{
			Fatal:    true,
			Messages: []string{fmt.Sprintf("unknown action %q", item.Action)},
		}
	}
}

func (e *Executor) createUpdate(ctx context.Context, item WorkItem, log *slog.Logger) Result {
	errs := businesscard.NewCollectingErrorHandler()
	card, err := e.provider.Fetch(ctx, item.Participant, errs)
	if err != nil {
		log.Warn("business card retrieval failed", slog.String("error", err.Error()))
		return Result{Messages: append(errs.Messages(), err.Error())}
	}
	if card == nil {
		// No card exists for this participant. Treated as a failure so the
		// normal retry lifecycle can pick it up once the card appears.
		log.Warn("no business card available")
		return Result{Messages: append(errs.Messages(), "no business card available")}
	}

	meta := store.NewMetaData(item.OwnerID, item.RequestingHost)
	if err := e.store.CreateOrUpdate(ctx, card, meta); err != nil {
		log.Error("index update failed", slog.String("error", err.Error()))
		return Result{Fatal: pderrors.IsFatal(err), Messages: append(errs.Messages(), err.Error())}
	}

	log.Info("participant indexed", slog.Int("entities", len(card.Entities)))
	return Result{Success: true, Messages: errs.Messages()}
}

func (e *Executor) delete(ctx context.Context, item WorkItem, log *slog.Logger, verifyOwner bool) Result {
	meta := store.NewMetaData(item.OwnerID, item.RequestingHost)
	removed, err := e.store.Delete(ctx, item.Participant, meta, verifyOwner)
	if err != nil {
		log.Error("index delete failed", slog.String("error", err.Error()))
		return Result{Fatal: pderrors.IsFatal(err), Messages: []string{err.Error()}}
	}
	if removed == 0 {
		log.Warn("participant not removed from index")
		return Result{Messages: []string{"participant not present or ownership mismatch"}}
	}

	log.Info("participant removed", slog.Int("documents", removed))
	return Result{Success: true}
}

// sync refreshes a participant from the provider: an existing card is
// re-indexed, an absent card removes the participant. A participant that is
// absent on both sides is already in the desired state.
func (e *Executor) sync(ctx context.Context, item WorkItem, log *slog.Logger) Result {
	errs := businesscard.NewCollectingErrorHandler()
	card, err := e.provider.Fetch(ctx, item.Participant, errs)
	if err != nil {
		log.Warn("business card retrieval failed", slog.String("error", err.Error()))
		return Result{Messages: append(errs.Messages(), err.Error())}
	}

	if card == nil {
		meta := store.NewMetaData(item.OwnerID, item.RequestingHost)
		removed, derr := e.store.Delete(ctx, item.Participant, meta, false)
		if derr != nil {
			log.Error("index delete failed", slog.String("error", derr.Error()))
			return Result{Fatal: pderrors.IsFatal(derr), Messages: append(errs.Messages(), derr.Error())}
		}
		log.Info("participant synced as absent", slog.Int("documents", removed))
		return Result{Success: true, Messages: errs.Messages()}
	}

	meta := store.NewMetaData(item.OwnerID, item.RequestingHost)
	if err := e.store.CreateOrUpdate(ctx, card, meta); err != nil {
		log.Error("index update failed", slog.String("error", err.Error()))
		return Result{Fatal: pderrors.IsFatal(err), Messages: append(errs.Messages(), err.Error())}
	}

	log.Info("participant synced", slog.Int("entities", len(card.Entities)))
	return Result{Success: true, Messages: errs.Messages()}
}
