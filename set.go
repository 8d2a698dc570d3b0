/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import "sort"

// stringSet is the unique-membership container used for ready
// players, spectators, and the used-card pool. Snapshots serialize it
// as a sorted slice so persisted state is order-independent.
type stringSet map[string]struct{}

func newStringSet(members ...string) stringSet {
	s := make(stringSet, len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

func (s stringSet) add(member string) {
	s[member] = struct{}{}
}

func (s stringSet) remove(member string) {
	delete(s, member)
}

func (s stringSet) has(member string) bool {
	_, ok := s[member]
	return ok
}

func (s stringSet) sorted() []string {
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
