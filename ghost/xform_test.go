/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ghost

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentityStartsAtZero(t *testing.T) {
	x := Identity(123456)
	require.Equal(t, int64(0), x.HostToGhost(123456))
	require.True(t, x.IsIdentity(123456))
}

func TestIsIdentityDistinguishesMeasuredSlopeOneXForm(t *testing.T) {
	anchor := int64(123456)
	identity := Identity(anchor)
	require.True(t, identity.IsIdentity(anchor))

	// A completed measurement always reports Slope 1.0 too (spec
	// §4.5), so only the intercept tells it apart from identity.
	measured := XForm{Slope: 1.0, Intercept: identity.Intercept + 1}
	require.False(t, measured.IsIdentity(anchor))

	// The same xform anchored at a different host time is not identity.
	require.False(t, identity.IsIdentity(anchor+1))
}

func TestHostGhostInverse(t *testing.T) {
	x := XForm{Slope: 1.0003, Intercept: -98765}
	for _, h := range []int64{0, 1000, -1000, 1_000_000} {
		g := x.HostToGhost(h)
		back := x.GhostToHost(g)
		require.InDelta(t, h, back, 1)
	}
}

func TestZeroSentinel(t *testing.T) {
	var x XForm
	require.True(t, x.IsZero())
	y := Identity(0)
	require.False(t, y.IsZero())
}
