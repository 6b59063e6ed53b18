package boardsync

import "time"

// EntityKind names the aggregate sub-entity an operation targets.
type EntityKind string

const (
	KindTask   EntityKind = "task"
	KindColumn EntityKind = "column"
	KindMember EntityKind = "member"
	KindBoard  EntityKind = "board"
)

type entityKey struct {
	Kind EntityKind
	ID   string
}

// PendingOp is one in-flight optimistic mutation. Prev holds the value needed
// to revert the local change; a nil Prev marks a create, whose locally
// synthesized entity is simply removed on rollback.
type PendingOp struct {
	Ref      string
	Kind     EntityKind
	EntityID string
	Type     string
	Prev     any
	At       time.Time
}

// pendingTable is the single bookkeeping structure for all in-flight
// mutations, regardless of entity kind. Keyed by (kind, entity id) so a
// broadcast touching an entity can find and discard the local optimism in one
// lookup; the ref index serves acknowledgment correlation.
//
// createRefs keeps the refs of creates that were replaced by a later edit on
// the same entity: the create's ack is still in flight and must keep resolving
// to the entity, or the placeholder id would never be swapped for the
// canonical one.
type pendingTable struct {
	byEntity   map[entityKey]PendingOp
	byRef      map[string]entityKey
	createRefs map[string]entityKey
}

func newPendingTable() pendingTable {
	return pendingTable{
		byEntity:   make(map[entityKey]PendingOp),
		byRef:      make(map[string]entityKey),
		createRefs: make(map[string]entityKey),
	}
}

// put records an op, replacing any earlier op on the same entity. The
// replaced op's ref is unindexed so its late ack is ignored rather than
// rolling back over newer local state — unless the replaced op was a create,
// whose ref stays correlated via createRefs.
func (t *pendingTable) put(op PendingOp) {
	key := entityKey{Kind: op.Kind, ID: op.EntityID}
	if old, ok := t.byEntity[key]; ok {
		delete(t.byRef, old.Ref)

		if old.Prev == nil {
			// The replaced op created this entity and its ack has not landed
			// yet; the entity id is still a local placeholder.
			t.createRefs[old.Ref] = key
		}

		// Chain of edits on one entity: keep the oldest Prev so a rollback
		// restores the last server-confirmed value, not an optimistic one.
		if old.Prev != nil && op.Prev != nil {
			op.Prev = old.Prev
		}
	}
	t.byEntity[key] = op
	t.byRef[op.Ref] = key
}

// takeCreateRef resolves the ref of a replaced create, removing it.
func (t *pendingTable) takeCreateRef(ref string) (entityKey, bool) {
	key, ok := t.createRefs[ref]
	if !ok {
		return entityKey{}, false
	}
	delete(t.createRefs, ref)
	return key, true
}

// rekey moves a pending op (and any replaced-create refs pointing at it) to a
// new entity id, after a placeholder is swapped for the canonical id.
func (t *pendingTable) rekey(kind EntityKind, oldID, newID string) {
	oldKey := entityKey{Kind: kind, ID: oldID}
	op, ok := t.byEntity[oldKey]
	if !ok {
		return
	}
	delete(t.byEntity, oldKey)

	newKey := entityKey{Kind: kind, ID: newID}
	op.EntityID = newID
	t.byEntity[newKey] = op
	t.byRef[op.Ref] = newKey

	for ref, key := range t.createRefs {
		if key == oldKey {
			t.createRefs[ref] = newKey
		}
	}
}

func (t *pendingTable) takeByRef(ref string) (PendingOp, bool) {
	key, ok := t.byRef[ref]
	if !ok {
		return PendingOp{}, false
	}
	op := t.byEntity[key]
	delete(t.byRef, ref)
	delete(t.byEntity, key)
	return op, true
}

func (t *pendingTable) takeByEntity(kind EntityKind, id string) (PendingOp, bool) {
	key := entityKey{Kind: kind, ID: id}
	op, ok := t.byEntity[key]
	if !ok {
		return PendingOp{}, false
	}
	delete(t.byEntity, key)
	delete(t.byRef, op.Ref)
	return op, true
}

func (t *pendingTable) len() int { return len(t.byEntity) }

func (t *pendingTable) clear() {
	t.byEntity = make(map[entityKey]PendingOp)
	t.byRef = make(map[string]entityKey)
	t.createRefs = make(map[string]entityKey)
}
