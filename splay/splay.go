// Package splay implements a self-adjusting binary search tree whose nodes live in
// an arena and are addressed by stable integer handles instead of pointers.
// Rotations only rewrite indices, so a caller can hold on to a Handle for as long as
// the node is in the tree and use it to remove or reweigh that node in O(log n)
// amortized time.
//
// Every node carries a non-negative weight and the tree maintains the sum of
// weights in each subtree. That makes the same structure serve two purposes:
//
//   - an ordered set, where Min returns the first element under the tree's ordering
//   - an order-statistics tree, where Select picks the node covering a position in
//     the running sum of weights, which is how a weighted random draw is made
//
// Example usage:
//
//	tr := splay.New(func(a, b int) bool { return a < b })
//
//	h := tr.Insert(42, 3) // value 42 with weight 3
//	tr.Insert(7, 1)
//
//	min := tr.Min()         // handle of 7
//	at := tr.Select(2)      // handle of 42: positions 2..4 belong to it
//	tr.SetWeight(h, 10)     // Sum() is now 11
//	tr.Delete(h)
//
// A Tree is not safe for concurrent use.
package splay

// Handle addresses a node in a Tree's arena.
type Handle int32

// Nil is the handle of no node.
const Nil Handle = -1

type node[V any] struct {
	parent, left, right Handle
	weight              int
	sum                 int // weight of this node plus both subtrees
	value               V
}

// Tree is an arena-backed splay tree ordered by a less function.
type Tree[V any] struct {
	nodes []node[V]
	free  []Handle
	root  Handle
	size  int
	less  func(a, b V) bool
}

// New creates an empty tree ordered by less.
func New[V any](less func(a, b V) bool) *Tree[V] {
	return &Tree[V]{root: Nil, less: less}
}

// Len returns the number of nodes.
func (t *Tree[V]) Len() int { return t.size }

// Sum returns the total weight of the tree.
func (t *Tree[V]) Sum() int { return t.sumOf(t.root) }

// Value returns the value stored at h.
func (t *Tree[V]) Value(h Handle) V { return t.nodes[h].value }

// Weight returns the weight of the node at h.
func (t *Tree[V]) Weight(h Handle) int { return t.nodes[h].weight }

// Insert adds v with the given weight and returns its handle. Among equal values
// the new node goes after the existing ones.
func (t *Tree[V]) Insert(v V, weight int) Handle {
	h := t.alloc(v, weight)
	if t.root == Nil {
		t.root = h
		t.size++
		return h
	}

	cur := t.root
	for {
		t.nodes[cur].sum += weight
		if t.less(v, t.nodes[cur].value) {
			if t.nodes[cur].left == Nil {
				t.nodes[cur].left = h
				break
			}
			cur = t.nodes[cur].left
		} else {
			if t.nodes[cur].right == Nil {
				t.nodes[cur].right = h
				break
			}
			cur = t.nodes[cur].right
		}
	}
	t.nodes[h].parent = cur
	t.size++
	t.splay(h)
	return h
}

// Delete removes the node at h. The handle must not be used afterwards.
func (t *Tree[V]) Delete(h Handle) {
	t.splay(h)
	n := &t.nodes[h]
	left, right := n.left, n.right
	if left != Nil {
		t.nodes[left].parent = Nil
	}
	if right != Nil {
		t.nodes[right].parent = Nil
	}

	switch {
	case left == Nil:
		t.root = right
	case right == Nil:
		t.root = left
	default:
		// Bring the largest node of the left subtree to its root; it has no right
		// child, so the right subtree hangs off it directly.
		m := left
		for t.nodes[m].right != Nil {
			m = t.nodes[m].right
		}
		t.root = left
		t.splay(m)
		t.nodes[m].right = right
		t.nodes[right].parent = m
		t.nodes[m].sum += t.nodes[right].sum
	}

	t.release(h)
	t.size--
}

// Min returns the first node under the tree's ordering, or Nil if the tree is empty.
func (t *Tree[V]) Min() Handle {
	if t.root == Nil {
		return Nil
	}
	cur := t.root
	for t.nodes[cur].left != Nil {
		cur = t.nodes[cur].left
	}
	t.splay(cur)
	return cur
}

// Select returns the node whose share of the running weight sum contains position
// pos, counting from 1 in tree order. It returns Nil when pos is outside [1, Sum()].
func (t *Tree[V]) Select(pos int) Handle {
	if pos < 1 || pos > t.Sum() {
		return Nil
	}
	cur := t.root
	for cur != Nil {
		n := &t.nodes[cur]
		ls := t.sumOf(n.left)
		switch {
		case pos <= ls:
			cur = n.left
		case pos > ls+n.weight:
			pos -= ls + n.weight
			cur = n.right
		default:
			t.splay(cur)
			return cur
		}
	}
	return Nil
}

// SetWeight changes the weight of the node at h and fixes the sums of its ancestors.
func (t *Tree[V]) SetWeight(h Handle, weight int) {
	delta := weight - t.nodes[h].weight
	if delta == 0 {
		return
	}
	t.nodes[h].weight = weight
	for cur := h; cur != Nil; cur = t.nodes[cur].parent {
		t.nodes[cur].sum += delta
	}
	t.splay(h)
}

// Walk calls fn for every node in tree order until fn returns false. It does not
// restructure the tree.
func (t *Tree[V]) Walk(fn func(h Handle, v V) bool) {
	stack := make([]Handle, 0, 16)
	cur := t.root
	for cur != Nil || len(stack) > 0 {
		for cur != Nil {
			stack = append(stack, cur)
			cur = t.nodes[cur].left
		}
		cur = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(cur, t.nodes[cur].value) {
			return
		}
		cur = t.nodes[cur].right
	}
}

func (t *Tree[V]) sumOf(h Handle) int {
	if h == Nil {
		return 0
	}
	return t.nodes[h].sum
}

func (t *Tree[V]) alloc(v V, weight int) Handle {
	n := node[V]{parent: Nil, left: Nil, right: Nil, weight: weight, sum: weight, value: v}
	if k := len(t.free); k > 0 {
		h := t.free[k-1]
		t.free = t.free[:k-1]
		t.nodes[h] = n
		return h
	}
	t.nodes = append(t.nodes, n)
	return Handle(len(t.nodes) - 1)
}

func (t *Tree[V]) release(h Handle) {
	var zero V
	t.nodes[h] = node[V]{parent: Nil, left: Nil, right: Nil, value: zero}
	t.free = append(t.free, h)
}

// rotate lifts x above its parent.
func (t *Tree[V]) rotate(x Handle) {
	n := t.nodes
	p := n[x].parent
	g := n[p].parent

	if n[p].left == x {
		b := n[x].right
		n[p].left = b
		if b != Nil {
			n[b].parent = p
		}
		n[x].right = p
	} else {
		b := n[x].left
		n[p].right = b
		if b != Nil {
			n[b].parent = p
		}
		n[x].left = p
	}
	n[p].parent = x
	n[x].parent = g

	if g == Nil {
		t.root = x
	} else if n[g].left == p {
		n[g].left = x
	} else {
		n[g].right = x
	}

	n[x].sum = n[p].sum
	n[p].sum = n[p].weight + t.sumOf(n[p].left) + t.sumOf(n[p].right)
}

func (t *Tree[V]) splay(x Handle) {
	n := t.nodes
	for n[x].parent != Nil {
		p := n[x].parent
		g := n[p].parent
		switch {
		case g == Nil:
			t.rotate(x)
		case (n[g].left == p) == (n[p].left == x):
			t.rotate(p)
			t.rotate(x)
		default:
			t.rotate(x)
			t.rotate(x)
		}
	}
	t.root = x
}
