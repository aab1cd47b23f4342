package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/myeasypage/easypage/pkg/db"
	"github.com/myeasypage/easypage/pkg/model"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// AssetStore is the external media storage referenced by documents.
type AssetStore interface {
	KeyFromURL(value string) (string, bool)
	Delete(ctx context.Context, key string) error
}

// Snapshot is a stored document and the time it was last written.
type Snapshot struct {
	Document  map[string]interface{}
	UpdatedAt time.Time
}

type Store struct {
	db     db.Database
	assets AssetStore
	log    *logrus.Entry
	wg     sync.WaitGroup
}

// NewStore returns a Store. assets may be nil, in which case orphaned media is
// never cleaned up.
func NewStore(database db.Database, assets AssetStore, log *logrus.Entry) *Store {
	return &Store{
		db:     database,
		assets: assets,
		log:    log.WithField("component", "content"),
	}
}

func (s *Store) keyOf(value string) (string, bool) {
	if s.assets == nil {
		return "", false
	}
	return s.assets.KeyFromURL(value)
}

// SaveDraft merges partial into the owner's draft. The read, merge and write
// happen in one transaction so concurrent saves never merge against a stale
// copy. Media no longer referenced by the draft or the published document is
// deleted once the transaction has committed.
func (s *Store) SaveDraft(ctx context.Context, ownerID uint, partial map[string]interface{}) (Snapshot, error) {
	var (
		saved    Snapshot
		orphaned []string
	)

	err := s.db.Transaction(ctx, func(tx db.Database) error {
		draft, err := tx.GetDraftForUpdate(ctx, ownerID)
		if errors.Is(err, db.ErrNotFound) {
			draft = db.ProfileDesignDraft{OwnerID: ownerID}
		} else if err != nil {
			return err
		}

		existing, err := decode(draft.Document)
		if err != nil {
			return err
		}
		merged := Apply(existing, partial)

		draft.Document, err = encode(merged)
		if err != nil {
			return err
		}
		if err := tx.SaveDraft(ctx, &draft); err != nil {
			return err
		}

		published, err := s.publishedDocument(ctx, tx, ownerID)
		if err != nil {
			return err
		}

		orphaned = Orphans(AssetKeys(existing, s.keyOf), AssetKeys(merged, s.keyOf), AssetKeys(published, s.keyOf))
		saved = Snapshot{Document: merged, UpdatedAt: draft.UpdatedAt}
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("saving draft of owner %d: %w", ownerID, err)
	}

	s.deleteAssets(ctx, ownerID, orphaned)
	return saved, nil
}

// EditorState returns the draft the editor should open with. A missing or
// empty draft is seeded from the published document.
func (s *Store) EditorState(ctx context.Context, ownerID uint) (Snapshot, error) {
	var state Snapshot

	err := s.db.Transaction(ctx, func(tx db.Database) error {
		draft, err := tx.GetDraftForUpdate(ctx, ownerID)
		if errors.Is(err, db.ErrNotFound) {
			draft = db.ProfileDesignDraft{OwnerID: ownerID}
		} else if err != nil {
			return err
		}

		doc, err := decode(draft.Document)
		if err != nil {
			return err
		}
		if len(doc) > 0 {
			state = Snapshot{Document: doc, UpdatedAt: draft.UpdatedAt}
			return nil
		}

		published, err := s.publishedDocument(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if len(published) == 0 && draft.ID != 0 {
			state = Snapshot{Document: doc, UpdatedAt: draft.UpdatedAt}
			return nil
		}

		draft.Document, err = encode(published)
		if err != nil {
			return err
		}
		if err := tx.SaveDraft(ctx, &draft); err != nil {
			return err
		}
		state = Snapshot{Document: published, UpdatedAt: draft.UpdatedAt}
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading editor state of owner %d: %w", ownerID, err)
	}
	return state, nil
}

// Draft returns the owner's draft without seeding it.
func (s *Store) Draft(ctx context.Context, ownerID uint) (Snapshot, error) {
	draft, err := s.db.GetDraft(ctx, ownerID)
	if errors.Is(err, db.ErrNotFound) {
		return Snapshot{Document: map[string]interface{}{}}, nil
	} else if err != nil {
		return Snapshot{}, err
	}
	doc, err := decode(draft.Document)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Document: doc, UpdatedAt: draft.UpdatedAt}, nil
}

// Publish replaces the published document with the draft. The draft
// supersedes the published copy, nothing is merged.
func (s *Store) Publish(ctx context.Context, ownerID uint) (Snapshot, error) {
	var (
		saved    Snapshot
		orphaned []string
	)

	err := s.db.Transaction(ctx, func(tx db.Database) error {
		draft, err := tx.GetDraftForUpdate(ctx, ownerID)
		if errors.Is(err, db.ErrNotFound) {
			return model.NotFound("there is no draft to publish")
		} else if err != nil {
			return err
		}
		doc, err := decode(draft.Document)
		if err != nil {
			return err
		}

		published, err := tx.GetPublished(ctx, ownerID)
		if errors.Is(err, db.ErrNotFound) {
			published = db.ProfileDesign{OwnerID: ownerID}
		} else if err != nil {
			return err
		}
		previous, err := decode(published.Document)
		if err != nil {
			return err
		}

		published.Document = draft.Document
		if err := tx.SavePublished(ctx, &published); err != nil {
			return err
		}

		orphaned = Orphans(AssetKeys(previous, s.keyOf), AssetKeys(doc, s.keyOf))
		saved = Snapshot{Document: doc, UpdatedAt: published.UpdatedAt}
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("publishing owner %d: %w", ownerID, err)
	}

	s.deleteAssets(ctx, ownerID, orphaned)
	return saved, nil
}

// Published returns the owner's live document.
func (s *Store) Published(ctx context.Context, ownerID uint) (Snapshot, error) {
	published, err := s.db.GetPublished(ctx, ownerID)
	if errors.Is(err, db.ErrNotFound) {
		return Snapshot{}, model.NotFound("page not found")
	} else if err != nil {
		return Snapshot{}, err
	}
	doc, err := decode(published.Document)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Document: doc, UpdatedAt: published.UpdatedAt}, nil
}

// Wait blocks until every scheduled asset deletion has finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

func (s *Store) publishedDocument(ctx context.Context, tx db.Database, ownerID uint) (map[string]interface{}, error) {
	published, err := tx.GetPublished(ctx, ownerID)
	if errors.Is(err, db.ErrNotFound) {
		return map[string]interface{}{}, nil
	} else if err != nil {
		return nil, err
	}
	return decode(published.Document)
}

// deleteAssets removes orphaned media concurrently. Failures are logged and
// otherwise ignored.
func (s *Store) deleteAssets(ctx context.Context, ownerID uint, keys []string) {
	if s.assets == nil || len(keys) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		key := key
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.assets.Delete(ctx, key); err != nil {
				s.log.WithFields(logrus.Fields{"owner": ownerID, "key": key}).WithError(err).Warn("failed to delete orphaned asset")
				return
			}
			s.log.WithFields(logrus.Fields{"owner": ownerID, "key": key}).Debug("deleted orphaned asset")
		}()
	}
}

func decode(raw datatypes.JSON) (map[string]interface{}, error) {
	doc := map[string]interface{}{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding stored document: %w", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	return doc, nil
}

func encode(doc map[string]interface{}) (datatypes.JSON, error) {
	if doc == nil {
		doc = map[string]interface{}{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return datatypes.JSON(raw), nil
}
