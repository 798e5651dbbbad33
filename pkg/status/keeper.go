// Package status implements the status keeper: it persists deployment
// status records and publishes them to registered consumers, replaying
// anything a consumer hasn't yet acknowledged on reconnect.
package status

import (
	"sync"

	log "github.com/cuemby/dagent/pkg/agentlog"
	"github.com/cuemby/dagent/pkg/domain"
	"github.com/cuemby/dagent/pkg/storage"
)

// Consumer is invoked with a status record and reports whether it has been
// accepted (e.g. acknowledged by the cloud). A record a consumer accepts is
// removed from persisted storage; otherwise it is retained for the next
// publish attempt.
type Consumer func(rec domain.StatusRecord) bool

// Keeper is the Status Keeper. One Keeper instance serves every deployment
// type; consumers register per type.
type Keeper struct {
	store storage.Store

	mu        sync.Mutex
	consumers map[domain.Type]map[string]Consumer
}

// New creates a Keeper backed by store.
func New(store storage.Store) *Keeper {
	return &Keeper{
		store:     store,
		consumers: make(map[domain.Type]map[string]Consumer),
	}
}

// RegisterDeploymentStatusConsumer registers fn under consumerID for
// recordType. Registering the same consumerID twice for the same type is a
// no-op that returns false.
func (k *Keeper) RegisterDeploymentStatusConsumer(recordType domain.Type, consumerID string, fn Consumer) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	byType, ok := k.consumers[recordType]
	if !ok {
		byType = make(map[string]Consumer)
		k.consumers[recordType] = byType
	}
	if _, exists := byType[consumerID]; exists {
		return false
	}
	byType[consumerID] = fn
	return true
}

// PersistAndPublishDeploymentStatus appends a status record for
// (deploymentID, recordType) under persisted storage, then invokes every
// registered consumer for recordType. A record whose consumer returns true
// is removed; otherwise it is retained for later replay.
func (k *Keeper) PersistAndPublishDeploymentStatus(deploymentID, configurationArn string, recordType domain.Type, jobStatus domain.JobStatus, details domain.StatusDetails, rootPackages []string) error {
	rec := domain.StatusRecord{
		DeploymentID:     deploymentID,
		ConfigurationArn: configurationArn,
		Type:             recordType,
		Status:           jobStatus,
		StatusDetails:    details,
		RootPackages:     rootPackages,
	}

	seq, err := k.store.AppendStatusRecord(recordType, rec)
	if err != nil {
		return err
	}

	if k.publishOne(recordType, seq, rec) {
		return nil
	}
	return nil
}

// PublishPersistedStatusUpdates replays every retained record for
// recordType to its consumers, in FIFO order, removing those accepted.
// Called on consumer reconnect.
func (k *Keeper) PublishPersistedStatusUpdates(recordType domain.Type) error {
	records, err := k.store.ListStatusRecords(recordType)
	if err != nil {
		return err
	}
	for _, persisted := range records {
		k.publishOne(recordType, persisted.Seq, persisted.Record)
	}
	return nil
}

// publishOne invokes every consumer registered for recordType with rec,
// removing the persisted record if any consumer accepts it.
func (k *Keeper) publishOne(recordType domain.Type, seq uint64, rec domain.StatusRecord) bool {
	k.mu.Lock()
	consumers := make([]Consumer, 0, len(k.consumers[recordType]))
	for _, fn := range k.consumers[recordType] {
		consumers = append(consumers, fn)
	}
	k.mu.Unlock()

	accepted := false
	for _, fn := range consumers {
		if fn(rec) {
			accepted = true
		}
	}

	if accepted {
		if err := k.store.DeleteStatusRecord(recordType, seq); err != nil {
			log.Errorf("status keeper: remove acknowledged record: %v", err)
		}
	}
	return accepted
}
