package repository

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/cr0ssing/iota-local-gtta/db"
	"github.com/cr0ssing/iota-local-gtta/models"
)

const checkpointPrefix = "checkpoint:"

// It abstracts the storage layer from the business logic
type CheckpointRepositoryInterface interface {
	PutCheckpoint(cp *models.Checkpoint) error
	GetCheckpoint(milestone int) (*models.Checkpoint, error)
	GetLatestCheckpoint() (*models.Checkpoint, error)
}

// CheckpointRepository stores milestone checkpoints in LevelDB. Keys are zero padded so the
// key order is the milestone order.
type CheckpointRepository struct {
	db   *db.LevelDB
	keep int
}

// NewCheckpointRepository keeps the newest keep checkpoints; keep <= 0 keeps all of them.
func NewCheckpointRepository(db *db.LevelDB, keep int) *CheckpointRepository {
	return &CheckpointRepository{db: db, keep: keep}
}

func checkpointKey(milestone int) []byte {
	return []byte(fmt.Sprintf("%s%010d", checkpointPrefix, milestone))
}

// PutCheckpoint stores cp under its milestone and drops checkpoints beyond the retention.
func (r *CheckpointRepository) PutCheckpoint(cp *models.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrap(err, "marshalling checkpoint")
	}
	if err := r.db.Put(checkpointKey(cp.Milestone), data); err != nil {
		return errors.Wrapf(err, "storing checkpoint %d", cp.Milestone)
	}
	return r.trim()
}

// GetCheckpoint returns the checkpoint of milestone, or nil if none is stored.
func (r *CheckpointRepository) GetCheckpoint(milestone int) (*models.Checkpoint, error) {
	data, err := r.db.Get(checkpointKey(milestone))
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading checkpoint %d", milestone)
	}
	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errors.Wrapf(err, "decoding checkpoint %d", milestone)
	}
	return &cp, nil
}

// GetLatestCheckpoint returns the checkpoint with the highest milestone, or nil if the store is empty.
func (r *CheckpointRepository) GetLatestCheckpoint() (*models.Checkpoint, error) {
	iter := r.db.NewPrefixIterator([]byte(checkpointPrefix))
	defer iter.Release()

	if !iter.Last() {
		return nil, errors.Wrap(iter.Error(), "reading latest checkpoint")
	}
	var cp models.Checkpoint
	if err := json.Unmarshal(iter.Value(), &cp); err != nil {
		return nil, errors.Wrapf(err, "decoding checkpoint %s", iter.Key())
	}
	return &cp, nil
}

func (r *CheckpointRepository) trim() error {
	if r.keep <= 0 {
		return nil
	}

	iter := r.db.NewPrefixIterator([]byte(checkpointPrefix))
	var keys [][]byte
	for iter.Next() {
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return errors.Wrap(err, "listing checkpoints")
	}

	for len(keys) > r.keep {
		if err := r.db.Delete(keys[0]); err != nil {
			return errors.Wrapf(err, "deleting checkpoint %s", keys[0])
		}
		keys = keys[1:]
	}
	return nil
}
