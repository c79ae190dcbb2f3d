package registry

import (
	"testing"

	"ag3/pkg/protocol"

	"github.com/stretchr/testify/assert"
)

func TestRandomPolicy_UsesIndexSource(t *testing.T) {
	candidates := []protocol.Agent{{Name: "ag4"}, {Name: "ag5"}, {Name: "ag6"}}

	var gotN int
	p := &RandomPolicy{intN: func(n int) int {
		gotN = n
		return 2
	}}

	assert.Equal(t, "ag6", p.Pick("marketing", candidates).Name)
	assert.Equal(t, 3, gotN)
}

func TestRandomPolicy_StaysInRange(t *testing.T) {
	candidates := []protocol.Agent{{Name: "ag4"}, {Name: "ag5"}}
	p := NewRandomPolicy()

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[p.Pick("marketing", candidates).Name] = true
	}
	assert.Len(t, seen, 2, "both candidates should be chosen over 200 draws")
}
