package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenID(v int64) *int64 { return &v }

func TestCanCreateOnChain(t *testing.T) {
	d := &Demand{ID: uuid.New(), State: DemandStatePending}
	require.NoError(t, CanCreateOnChain(d))

	d.State = DemandStateCreated
	assert.ErrorIs(t, CanCreateOnChain(d), ErrConflict)

	d.State = DemandStatePending
	d.LatestTokenID = tokenID(4)
	assert.ErrorIs(t, CanCreateOnChain(d), ErrConflict)
}

func TestNextAccept(t *testing.T) {
	tests := []struct {
		name      string
		state     Match2State
		ownsA     bool
		ownsB     bool
		wantNext  Match2State
		wantFinal bool
		wantErr   error
	}{
		{name: "proposed by A", state: Match2StateProposed, ownsA: true, wantNext: Match2StateAcceptedA},
		{name: "proposed by B", state: Match2StateProposed, ownsB: true, wantNext: Match2StateAcceptedB},
		{name: "proposed by stranger", state: Match2StateProposed, wantErr: ErrConflict},
		{name: "acceptedA by B", state: Match2StateAcceptedA, ownsB: true, wantNext: Match2StateAcceptedFinal, wantFinal: true},
		{name: "acceptedA by A again", state: Match2StateAcceptedA, ownsA: true, wantErr: ErrConflict},
		{name: "acceptedB by A", state: Match2StateAcceptedB, ownsA: true, wantNext: Match2StateAcceptedFinal, wantFinal: true},
		{name: "already final", state: Match2StateAcceptedFinal, ownsA: true, ownsB: true, wantErr: ErrConflict},
		{name: "pending", state: Match2StatePending, ownsA: true, wantErr: ErrConflict},
		{name: "rejected", state: Match2StateRejected, ownsA: true, wantErr: ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step, err := NextAccept(&Match2{State: tt.state}, tt.ownsA, tt.ownsB)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNext, step.Next)
			assert.Equal(t, tt.wantFinal, step.Final)
		})
	}
}

func TestCanRejectAndCancel(t *testing.T) {
	m := &Match2{Optimiser: "opt", MemberA: "a", MemberB: "b", State: Match2StateAcceptedA}

	assert.NoError(t, CanReject(m, "opt"))
	assert.ErrorIs(t, CanReject(m, "stranger"), ErrConflict)
	assert.ErrorIs(t, CanCancel(m, "a"), ErrConflict)

	m.State = Match2StateAcceptedFinal
	assert.ErrorIs(t, CanReject(m, "a"), ErrConflict)
	assert.NoError(t, CanCancel(m, "b"))
	assert.ErrorIs(t, CanCancel(m, "opt"), ErrConflict)
}

func TestCheckMatchable(t *testing.T) {
	order := &Demand{ID: uuid.New(), Subtype: DemandSubtypeOrder, State: DemandStateAllocated}

	assert.ErrorIs(t, CheckMatchable(order, DemandSubtypeOrder, false), ErrConflict)
	assert.NoError(t, CheckMatchable(order, DemandSubtypeOrder, true))
	assert.ErrorIs(t, CheckMatchable(order, DemandSubtypeCapacity, true), ErrValidation)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindConflict, KindOf(fmt.Errorf("%w: nope", ErrConflict)))
	assert.Equal(t, KindConsistency, KindOf(fmt.Errorf("block 7: %w", ErrConsistency)))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))

	_, err := ParseID("not-a-uuid")
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestNormalizeHash(t *testing.T) {
	assert.Equal(t, "abcdef", NormalizeHash("0xABCDEF"))
	assert.Equal(t, "abcdef", NormalizeHash("abcdef"))
}
