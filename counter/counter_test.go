package counter

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fakeCounter struct {
	id       uuid.UUID
	name     string
	priority int
	ticks    Ticks
	freq     Hz
}

func (f *fakeCounter) ID() uuid.UUID      { return f.id }
func (f *fakeCounter) Name() string       { return f.name }
func (f *fakeCounter) Now() Ticks         { return f.ticks }
func (f *fakeCounter) Frequency() Hz      { return f.freq }
func (f *fakeCounter) StaticPriority() int { return f.priority }

func resetRegistryForTest() {
	registryMu.Lock()
	registry = nil
	registryMu.Unlock()
	active.Store(nil)
}

func TestSelectLowestPriorityWins(t *testing.T) {
	resetRegistryForTest()
	defer resetRegistryForTest()

	low := &fakeCounter{id: uuid.New(), name: "low", priority: 5, freq: 1e9}
	high := &fakeCounter{id: uuid.New(), name: "high", priority: 50, freq: 1e9}
	Register(high)
	Register(low)

	winner, err := Select()
	require.NoError(t, err)
	require.Equal(t, "low", winner.Name())
	require.Equal(t, "low", Active().Name())
}

func TestSelectEmptyRegistryErrors(t *testing.T) {
	resetRegistryForTest()
	defer resetRegistryForTest()

	_, err := Select()
	require.Error(t, err)
}

func TestSelectTieBreaksByRegistrationOrder(t *testing.T) {
	resetRegistryForTest()
	defer resetRegistryForTest()

	first := &fakeCounter{id: uuid.New(), name: "first", priority: 10, freq: 1e9}
	second := &fakeCounter{id: uuid.New(), name: "second", priority: 10, freq: 1e9}
	Register(first)
	Register(second)

	winner, err := Select()
	require.NoError(t, err)
	require.Equal(t, "first", winner.Name())
}

func TestSelectPrefersDeterministicMockCounter(t *testing.T) {
	resetRegistryForTest()
	defer resetRegistryForTest()

	ctrl := gomock.NewController(t)
	mc := NewMockTimecounter(ctrl)
	mc.EXPECT().StaticPriority().Return(1).AnyTimes()
	mc.EXPECT().Name().Return("mock").AnyTimes()

	stub := &fakeCounter{id: uuid.New(), name: "stub", priority: 5, freq: 1e9}
	Register(stub)
	Register(mc)

	winner, err := Select()
	require.NoError(t, err)
	require.Equal(t, "mock", winner.Name())
}

func TestScalar(t *testing.T) {
	require.Equal(t, uint64(0), Scalar(0))
	require.NotZero(t, Scalar(1_000_000_000))
}
