package research

func CountNodes(root *Node) int {
	count := 0
	Walk(root, func(*Node) { count++ })
	return count
}

func MaxDepthReached(root *Node) int {
	deepest := 0
	Walk(root, func(n *Node) {
		if n.Depth > deepest {
			deepest = n.Depth
		}
	})
	return deepest
}

func CountByStatus(root *Node) map[Status]int {
	counts := make(map[Status]int)
	Walk(root, func(n *Node) { counts[n.Status]++ })
	return counts
}

func Walk(root *Node, visit func(*Node)) {
	if root == nil || visit == nil {
		return
	}
	visit(root)
	for _, child := range root.Branches {
		Walk(child, visit)
	}
}

func answeredNodes(root *Node) []*Node {
	var out []*Node
	Walk(root, func(n *Node) {
		if n.HasResponse() {
			out = append(out, n)
		}
	})
	return out
}
