package sketch

// centroidNode is a node of the augmented red-black tree backing
// OrderedCentroidIndex. Nodes are totally ordered by (mean, id); id
// only ever breaks ties between centroids with identical means. Each
// node additionally caches the size and weight of its own subtree, so
// headCount/headSum can be answered by walking a single root-to-leaf
// path instead of scanning.
type centroidNode struct {
	left, right, parent *centroidNode
	red                 bool

	mean    float64
	id      uint64
	count   uint64
	samples []float64

	size   int
	weight uint64
}

// centroidIndex is an order-statistics red-black tree keyed by
// (mean, id) ascending. A zero-id probe sorts before any real centroid
// sharing its mean, since real centroid ids start at 1.
type centroidIndex struct {
	nilNode *centroidNode
	root    *centroidNode
	n       int
}

func newCentroidIndex() *centroidIndex {
	nilNode := &centroidNode{red: false}
	nilNode.left, nilNode.right, nilNode.parent = nilNode, nilNode, nilNode
	return &centroidIndex{nilNode: nilNode, root: nilNode}
}

func less(meanA float64, idA uint64, meanB float64, idB uint64) bool {
	if meanA != meanB {
		return meanA < meanB
	}
	return idA < idB
}

func (t *centroidIndex) size() int {
	return t.n
}

func (t *centroidIndex) totalWeight() uint64 {
	return t.root.weight
}

// refresh recomputes n's cached aggregates from its children. It does
// not touch ancestors; callers walk the path themselves (refreshPath)
// or rely on rotations refreshing the two nodes they touch.
func (t *centroidIndex) refresh(n *centroidNode) {
	if n == t.nilNode {
		return
	}
	n.size = n.left.size + n.right.size + 1
	n.weight = n.left.weight + n.right.weight + n.count
}

func (t *centroidIndex) refreshPath(n *centroidNode) {
	for n != t.nilNode {
		t.refresh(n)
		n = n.parent
	}
}

func (t *centroidIndex) rotateLeft(x *centroidNode) {
	y := x.right
	x.right = y.left
	if y.left != t.nilNode {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == t.nilNode {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
	t.refresh(x)
	t.refresh(y)
}

func (t *centroidIndex) rotateRight(x *centroidNode) {
	y := x.left
	x.left = y.right
	if y.right != t.nilNode {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == t.nilNode {
		t.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
	t.refresh(x)
	t.refresh(y)
}

// insert adds a new centroid and returns its node. Callers are
// responsible for picking an id that keeps (mean, id) unique.
func (t *centroidIndex) insert(mean float64, id uint64, count uint64, samples []float64) *centroidNode {
	z := &centroidNode{mean: mean, id: id, count: count, samples: samples, red: true}
	z.left, z.right = t.nilNode, t.nilNode

	y := t.nilNode
	x := t.root
	for x != t.nilNode {
		y = x
		if less(z.mean, z.id, x.mean, x.id) {
			x = x.left
		} else {
			x = x.right
		}
	}
	z.parent = y
	switch {
	case y == t.nilNode:
		t.root = z
	case less(z.mean, z.id, y.mean, y.id):
		y.left = z
	default:
		y.right = z
	}

	t.n++
	t.refreshPath(z)
	t.insertFixup(z)
	return z
}

func (t *centroidIndex) insertFixup(z *centroidNode) {
	for z.parent.red {
		if z.parent == z.parent.parent.left {
			y := z.parent.parent.right
			if y.red {
				z.parent.red = false
				y.red = false
				z.parent.parent.red = true
				z = z.parent.parent
			} else {
				if z == z.parent.right {
					z = z.parent
					t.rotateLeft(z)
				}
				z.parent.red = false
				z.parent.parent.red = true
				t.rotateRight(z.parent.parent)
			}
		} else {
			y := z.parent.parent.left
			if y.red {
				z.parent.red = false
				y.red = false
				z.parent.parent.red = true
				z = z.parent.parent
			} else {
				if z == z.parent.left {
					z = z.parent
					t.rotateRight(z)
				}
				z.parent.red = false
				z.parent.parent.red = true
				t.rotateLeft(z.parent.parent)
			}
		}
	}
	t.root.red = false
}

func (t *centroidIndex) transplant(u, v *centroidNode) {
	switch {
	case u.parent == t.nilNode:
		t.root = v
	case u == u.parent.left:
		u.parent.left = v
	default:
		u.parent.right = v
	}
	v.parent = u.parent
}

func (t *centroidIndex) minimum(x *centroidNode) *centroidNode {
	for x.left != t.nilNode {
		x = x.left
	}
	return x
}

// remove deletes z from the tree. z must be a node previously returned
// by insert on this index.
func (t *centroidIndex) remove(z *centroidNode) {
	y := z
	yOriginalRed := y.red
	var x, xParent *centroidNode

	switch {
	case z.left == t.nilNode:
		x = z.right
		xParent = z.parent
		t.transplant(z, z.right)
	case z.right == t.nilNode:
		x = z.left
		xParent = z.parent
		t.transplant(z, z.left)
	default:
		y = t.minimum(z.right)
		yOriginalRed = y.red
		x = y.right
		if y.parent == z {
			xParent = y
		} else {
			xParent = y.parent
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.red = z.red
	}

	t.n--
	t.refreshPath(xParent)

	if !yOriginalRed {
		t.deleteFixup(x, xParent)
	}
}

func (t *centroidIndex) deleteFixup(x, xParent *centroidNode) {
	for x != t.root && !x.red {
		if x == xParent.left {
			w := xParent.right
			if w.red {
				w.red = false
				xParent.red = true
				t.rotateLeft(xParent)
				w = xParent.right
			}
			if !w.left.red && !w.right.red {
				w.red = true
				x = xParent
				xParent = x.parent
			} else {
				if !w.right.red {
					w.left.red = false
					w.red = true
					t.rotateRight(w)
					w = xParent.right
				}
				w.red = xParent.red
				xParent.red = false
				w.right.red = false
				t.rotateLeft(xParent)
				x = t.root
				xParent = t.nilNode
			}
		} else {
			w := xParent.left
			if w.red {
				w.red = false
				xParent.red = true
				t.rotateRight(xParent)
				w = xParent.left
			}
			if !w.right.red && !w.left.red {
				w.red = true
				x = xParent
				xParent = x.parent
			} else {
				if !w.left.red {
					w.right.red = false
					w.red = true
					t.rotateLeft(w)
					w = xParent.left
				}
				w.red = xParent.red
				xParent.red = false
				w.left.red = false
				t.rotateRight(xParent)
				x = t.root
				xParent = t.nilNode
			}
		}
	}
	x.red = false
}

// floor returns the greatest node with key <= (mean, id), or nilNode.
func (t *centroidIndex) floor(mean float64, id uint64) *centroidNode {
	x := t.root
	result := t.nilNode
	for x != t.nilNode {
		if less(mean, id, x.mean, x.id) {
			x = x.left
		} else {
			result = x
			x = x.right
		}
	}
	return result
}

// ceiling returns the least node with key >= (mean, id), or nilNode.
func (t *centroidIndex) ceiling(mean float64, id uint64) *centroidNode {
	x := t.root
	result := t.nilNode
	for x != t.nilNode {
		if less(x.mean, x.id, mean, id) {
			x = x.right
		} else {
			result = x
			x = x.left
		}
	}
	return result
}

func (t *centroidIndex) first() *centroidNode {
	if t.root == t.nilNode {
		return t.nilNode
	}
	return t.minimum(t.root)
}

// next returns x's successor in sorted order, or nilNode if x is last.
func (t *centroidIndex) next(x *centroidNode) *centroidNode {
	if x.right != t.nilNode {
		return t.minimum(x.right)
	}
	y := x.parent
	for y != t.nilNode && x == y.right {
		x = y
		y = y.parent
	}
	return y
}

// headCount returns the number of nodes strictly preceding x in order,
// by ascending from x to the root and summing the left-subtree sizes
// of ancestors reached by a right-child step.
func (t *centroidIndex) headCount(x *centroidNode) int {
	count := x.left.size
	for x.parent != t.nilNode {
		if x == x.parent.right {
			count += x.parent.left.size + 1
		}
		x = x.parent
	}
	return count
}

// headSum is headCount's weight-sum analogue.
func (t *centroidIndex) headSum(x *centroidNode) uint64 {
	sum := x.left.weight
	for x.parent != t.nilNode {
		if x == x.parent.right {
			sum += x.parent.left.weight + x.parent.count
		}
		x = x.parent
	}
	return sum
}
