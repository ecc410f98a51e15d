// Package reconciler is the Startup Reconciler (component K, spec.md
// §4.K): on process boot, ensure the object-store bucket exists and
// schedule background restoration for every session left in status
// connected by a previous process, without blocking server listen.
package reconciler

import (
	"context"

	"github.com/crm/pkg/entities"
	"github.com/crm/pkg/objectstore"
	"github.com/crm/pkg/registry"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type Reconciler struct {
	db       *gorm.DB
	objects  *objectstore.Store
	registry *registry.Registry
}

func New(db *gorm.DB, objects *objectstore.Store, reg *registry.Registry) *Reconciler {
	return &Reconciler{db: db, objects: objects, registry: reg}
}

// Run ensures the bucket exists then fires restoration in the background
// for every row still marked connected. It returns as soon as the
// restorations are scheduled, never once they complete.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.objects.EnsureBucket(ctx); err != nil {
		return err
	}

	var sessions []entities.Session
	if err := r.db.WithContext(ctx).Where("status = ?", entities.SessionConnected).Find(&sessions).Error; err != nil {
		return err
	}

	log.Info().Int("count", len(sessions)).Msg("startup reconciler scheduling session restoration")

	for _, sess := range sessions {
		go r.restore(sess)
	}
	return nil
}

func (r *Reconciler) restore(sess entities.Session) {
	logger := log.With().Str("session_id", sess.SessionID).Uint("user_id", sess.UserID).Logger()

	if _, ok := r.registry.Get(sess.SessionID); ok {
		logger.Debug().Msg("session already has a live supervisor, skipping restore")
		return
	}

	// CreateIfAbsent gives the Supervisor its own background lifetime
	// context, so it isn't torn down when this goroutine returns; the
	// 2-minute restore deadline is enforced inside the Supervisor itself
	// (supervisor.restoreDeadline via watchDeadline), not here.
	sup := r.registry.CreateIfAbsent(sess.SessionID, sess.UserID, true)
	if sup == nil {
		logger.Warn().Msg("startup restoration failed to construct a supervisor")
		r.db.Model(&entities.Session{}).Where("session_id = ?", sess.SessionID).
			Update("status", entities.SessionDisconnected)
	}
}
