package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tendant/content-odata/pkg/contentrepo"
)

// Repository implements contentrepo.Repository using in-memory storage
type Repository struct {
	mu     sync.RWMutex
	nodes  map[int]*contentrepo.Node
	byPath map[string]int
	nextID int
}

// New creates a new in-memory repository
func New() contentrepo.Repository {
	return &Repository{
		nodes:  make(map[int]*contentrepo.Node),
		byPath: make(map[string]int),
		nextID: 1,
	}
}

func (r *Repository) CreateNode(ctx context.Context, node *contentrepo.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPath[node.Path]; exists {
		return contentrepo.ErrContentAlreadyExists
	}
	if node.ParentID != 0 {
		if _, exists := r.nodes[node.ParentID]; !exists {
			return contentrepo.ErrContentNotFound
		}
	}
	if node.ID == 0 {
		for r.nodes[r.nextID] != nil {
			r.nextID++
		}
		node.ID = r.nextID
	} else if _, exists := r.nodes[node.ID]; exists {
		return contentrepo.ErrContentAlreadyExists
	}
	if node.ID >= r.nextID {
		r.nextID = node.ID + 1
	}

	r.nodes[node.ID] = node.Clone()
	r.byPath[node.Path] = node.ID
	return nil
}

func (r *Repository) GetNode(ctx context.Context, id int) (*contentrepo.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, exists := r.nodes[id]
	if !exists {
		return nil, contentrepo.ErrContentNotFound
	}
	return node.Clone(), nil
}

func (r *Repository) GetNodeByPath(ctx context.Context, path string) (*contentrepo.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byPath[path]
	if !exists {
		return nil, contentrepo.ErrContentNotFound
	}
	return r.nodes[id].Clone(), nil
}

// UpdateNode stores the node's fields. Parent, name and path are changed
// through MoveNode only.
func (r *Repository) UpdateNode(ctx context.Context, node *contentrepo.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.nodes[node.ID]
	if !exists {
		return contentrepo.ErrContentNotFound
	}

	updated := node.Clone()
	updated.ParentID = existing.ParentID
	updated.Name = existing.Name
	updated.Path = existing.Path
	r.nodes[node.ID] = updated
	return nil
}

func (r *Repository) DeleteNode(ctx context.Context, id int) ([]*contentrepo.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, exists := r.nodes[id]
	if !exists {
		return nil, contentrepo.ErrContentNotFound
	}

	removed := []*contentrepo.Node{node}
	for _, n := range r.sortedNodes() {
		if n.ID != id && contentrepo.IsInTree(n.Path, node.Path) {
			removed = append(removed, n)
		}
	}
	for _, n := range removed {
		delete(r.nodes, n.ID)
		delete(r.byPath, n.Path)
	}
	return removed, nil
}

func (r *Repository) MoveNode(ctx context.Context, id, newParentID int, newName string) (*contentrepo.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, exists := r.nodes[id]
	if !exists {
		return nil, contentrepo.ErrContentNotFound
	}
	parent, exists := r.nodes[newParentID]
	if !exists {
		return nil, contentrepo.ErrContentNotFound
	}
	newPath := contentrepo.JoinPath(parent.Path, newName)
	if otherID, taken := r.byPath[newPath]; taken && otherID != id {
		return nil, contentrepo.ErrContentAlreadyExists
	}

	oldPath := node.Path
	for _, n := range r.sortedNodes() {
		if !contentrepo.IsInTree(n.Path, oldPath) {
			continue
		}
		delete(r.byPath, n.Path)
		n.Path = newPath + n.Path[len(oldPath):]
		r.byPath[n.Path] = n.ID
	}
	node.ParentID = newParentID
	node.Name = newName
	return node.Clone(), nil
}

func (r *Repository) ListNodes(ctx context.Context, query contentrepo.NodeQuery) ([]*contentrepo.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var types map[string]bool
	if len(query.Types) > 0 {
		types = make(map[string]bool, len(query.Types))
		for _, t := range query.Types {
			types[t] = true
		}
	}

	result := []*contentrepo.Node{}
	for _, n := range r.sortedNodes() {
		if n.Path == query.ParentPath || !contentrepo.IsInTree(n.Path, query.ParentPath) {
			continue
		}
		if !query.Recursive && contentrepo.ParentPath(n.Path) != query.ParentPath {
			continue
		}
		if types != nil && !types[n.TypeName] {
			continue
		}
		result = append(result, n.Clone())
	}
	return result, nil
}

func (r *Repository) NameExists(ctx context.Context, parentID int, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parent, exists := r.nodes[parentID]
	if !exists {
		return false, contentrepo.ErrContentNotFound
	}
	_, taken := r.byPath[contentrepo.JoinPath(parent.Path, name)]
	return taken, nil
}

// sortedNodes returns the stored nodes ordered by ID. Callers hold the lock.
func (r *Repository) sortedNodes() []*contentrepo.Node {
	out := make([]*contentrepo.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
