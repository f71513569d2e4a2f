// Package comments builds the two-level discussion tree for a bounty and keeps
// it consistent with optimistic edits and pushed changes.
package comments

import (
	"sort"

	"github.com/contribium/contribium/internal/model"
)

// maxDepth bounds the walk from a reply to its top-level ancestor.
const maxDepth = 64

// Build turns a flat list into top-level comments with their replies attached.
// Replies to replies are attached under their top-level ancestor. A reply whose
// ancestor is not in flat is dropped. Top-level comments are ordered newest
// first and replies oldest first. liked marks the viewer's liked comments.
func Build(flat []model.Comment, liked map[string]bool) []model.Comment {
	byID := make(map[string]model.Comment, len(flat))
	for _, c := range flat {
		byID[c.ID] = c
	}

	var top []model.Comment
	replies := make(map[string][]model.Comment)
	for _, c := range flat {
		c.LikedByViewer = liked[c.ID]
		c.Replies = nil
		if !c.IsReply() {
			top = append(top, c)
			continue
		}
		if root, ok := topLevelAncestor(byID, c); ok {
			replies[root] = append(replies[root], c)
		}
	}

	sort.SliceStable(top, func(i, j int) bool {
		return top[i].CreatedAt.After(top[j].CreatedAt)
	})
	for i := range top {
		rs := replies[top[i].ID]
		sort.SliceStable(rs, func(a, b int) bool {
			return rs[a].CreatedAt.Before(rs[b].CreatedAt)
		})
		top[i].Replies = rs
	}
	return top
}

func topLevelAncestor(byID map[string]model.Comment, c model.Comment) (string, bool) {
	for depth := 0; depth < maxDepth; depth++ {
		parent, ok := byID[c.ParentID]
		if !ok {
			return "", false
		}
		if !parent.IsReply() {
			return parent.ID, true
		}
		c = parent
	}
	return "", false
}

// CountTree returns the number of top-level comments plus all replies.
func CountTree(tree []model.Comment) int {
	n := len(tree)
	for _, c := range tree {
		n += len(c.Replies)
	}
	return n
}

func newestFirst(a, b model.Comment) bool { return a.CreatedAt.After(b.CreatedAt) }
func oldestFirst(a, b model.Comment) bool { return a.CreatedAt.Before(b.CreatedAt) }
