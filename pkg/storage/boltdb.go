package storage

import (
	"encoding/binary"
	"encoding/json"
	"path/filepath"

	"github.com/cuemby/dagent/pkg/domain"
	pkgerrors "github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketStatusRecords        = []byte("status_records")
	bucketGroupToRoots         = []byte("group_to_roots")
	bucketComponentToGroups    = []byte("component_to_groups")
	bucketProcessedDeployments = []byte("processed_deployments")
	bucketGroupLastDeployment  = []byte("group_last_deployment")
	bucketSingletons           = []byte("singletons")
	bucketDeploymentHistory    = []byte("deployment_history")

	singletonLastSuccessfulShadow = []byte("LAST_SUCCESSFUL_SHADOW_DEPLOYMENT_ID")
)

// BoltStore implements Store using a single BoltDB file, one top-level
// bucket per logical table.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the deployment service's database
// under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "dagent.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketStatusRecords,
			bucketGroupToRoots,
			bucketComponentToGroups,
			bucketProcessedDeployments,
			bucketGroupLastDeployment,
			bucketSingletons,
			bucketDeploymentHistory,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return pkgerrors.Wrapf(err, "create bucket %s", bucket)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// AppendStatusRecord stores rec under a nested bucket keyed by recordType,
// at the type's next monotonic sequence number.
func (s *BoltStore) AppendStatusRecord(recordType domain.Type, rec domain.StatusRecord) (uint64, error) {
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		typeBucket, err := tx.Bucket(bucketStatusRecords).CreateBucketIfNotExists([]byte(recordType))
		if err != nil {
			return err
		}
		seq, err = typeBucket.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return typeBucket.Put(seqKey(seq), data)
	})
	return seq, err
}

// ListStatusRecords returns every retained record for recordType in
// ascending sequence order (FIFO).
func (s *BoltStore) ListStatusRecords(recordType domain.Type) ([]PersistedStatusRecord, error) {
	var out []PersistedStatusRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		typeBucket := tx.Bucket(bucketStatusRecords).Bucket([]byte(recordType))
		if typeBucket == nil {
			return nil
		}
		return typeBucket.ForEach(func(k, v []byte) error {
			var rec domain.StatusRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, PersistedStatusRecord{Seq: binary.BigEndian.Uint64(k), Record: rec})
			return nil
		})
	})
	return out, err
}

// DeleteStatusRecord removes recordType/seq.
func (s *BoltStore) DeleteStatusRecord(recordType domain.Type, seq uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		typeBucket := tx.Bucket(bucketStatusRecords).Bucket([]byte(recordType))
		if typeBucket == nil {
			return nil
		}
		return typeBucket.Delete(seqKey(seq))
	})
}

// PutGroupRoots atomically replaces groupName's subtree of GROUP_TO_ROOTS.
func (s *BoltStore) PutGroupRoots(groupName string, roots []domain.GroupRoot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(roots)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketGroupToRoots).Put([]byte(groupName), data)
	})
}

// DeleteGroup removes groupName's entry from GROUP_TO_ROOTS entirely.
func (s *BoltStore) DeleteGroup(groupName string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGroupToRoots).Delete([]byte(groupName))
	})
}

// GetGroupRoots returns groupName's current root set.
func (s *BoltStore) GetGroupRoots(groupName string) ([]domain.GroupRoot, error) {
	var roots []domain.GroupRoot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketGroupToRoots).Get([]byte(groupName))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &roots)
	})
	return roots, err
}

// ListGroups returns the full GROUP_TO_ROOTS table.
func (s *BoltStore) ListGroups() (map[string][]domain.GroupRoot, error) {
	out := map[string][]domain.GroupRoot{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGroupToRoots).ForEach(func(k, v []byte) error {
			var roots []domain.GroupRoot
			if err := json.Unmarshal(v, &roots); err != nil {
				return err
			}
			out[string(k)] = roots
			return nil
		})
	})
	return out, err
}

// ReplaceComponentToGroups atomically replaces the whole COMPONENT_TO_GROUPS
// table with entries. The table is always swapped wholesale, never edited
// incrementally.
func (s *BoltStore) ReplaceComponentToGroups(entries map[string][]domain.ComponentGroupEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketComponentToGroups); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(bucketComponentToGroups)
		if err != nil {
			return err
		}
		for component, groups := range entries {
			data, err := json.Marshal(groups)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(component), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetComponentGroups returns componentName's current COMPONENT_TO_GROUPS
// entries.
func (s *BoltStore) GetComponentGroups(componentName string) ([]domain.ComponentGroupEntry, error) {
	var entries []domain.ComponentGroupEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketComponentToGroups).Get([]byte(componentName))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &entries)
	})
	return entries, err
}

// IsDeploymentProcessed reports whether deploymentID has already been
// committed.
func (s *BoltStore) IsDeploymentProcessed(deploymentID string) (bool, error) {
	var processed bool
	err := s.db.View(func(tx *bolt.Tx) error {
		processed = tx.Bucket(bucketProcessedDeployments).Get([]byte(deploymentID)) != nil
		return nil
	})
	return processed, err
}

// MarkDeploymentProcessed records deploymentID as committed.
func (s *BoltStore) MarkDeploymentProcessed(deploymentID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProcessedDeployments).Put([]byte(deploymentID), []byte{1})
	})
}

// SetGroupLastDeployment records a summary of the last deployment applied
// to groupName.
func (s *BoltStore) SetGroupLastDeployment(groupName, summary string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGroupLastDeployment).Put([]byte(groupName), []byte(summary))
	})
}

// GetGroupLastDeployment returns groupName's last-deployment summary.
func (s *BoltStore) GetGroupLastDeployment(groupName string) (string, bool, error) {
	var summary string
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketGroupLastDeployment).Get([]byte(groupName))
		if data == nil {
			return nil
		}
		ok = true
		summary = string(data)
		return nil
	})
	return summary, ok, err
}

// SetLastSuccessfulShadowDeploymentID records the id of the most recent
// SHADOW deployment to succeed.
func (s *BoltStore) SetLastSuccessfulShadowDeploymentID(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSingletons).Put(singletonLastSuccessfulShadow, []byte(id))
	})
}

// GetLastSuccessfulShadowDeploymentID returns that id, if any.
func (s *BoltStore) GetLastSuccessfulShadowDeploymentID() (string, bool, error) {
	var id string
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSingletons).Get(singletonLastSuccessfulShadow)
		if data == nil {
			return nil
		}
		ok = true
		id = string(data)
		return nil
	})
	return id, ok, err
}

// RecordDeploymentHistory appends entry to the deployment history bucket at
// the next sequence number, then evicts the oldest entries beyond
// maxHistory so the bucket never grows unbounded on a long-lived device.
func (s *BoltStore) RecordDeploymentHistory(entry DeploymentHistoryEntry, maxHistory int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeploymentHistory)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}

		if maxHistory <= 0 {
			return nil
		}
		for b.Stats().KeyN > maxHistory {
			k, _ := b.Cursor().First()
			if k == nil {
				break
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListDeploymentHistory returns the retained history, oldest first.
func (s *BoltStore) ListDeploymentHistory() ([]DeploymentHistoryEntry, error) {
	var out []DeploymentHistoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeploymentHistory).ForEach(func(k, v []byte) error {
			var entry DeploymentHistoryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			out = append(out, entry)
			return nil
		})
	})
	return out, err
}
