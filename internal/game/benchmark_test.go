package game

import (
	"testing"

	"loa-board/internal/config"
)

// =============================================================================
// BENCHMARK SUITE: CRITICAL PATH PERFORMANCE TESTS
// Run with: go test -bench=. -benchmem ./internal/game/...
// =============================================================================

func benchEngine(b *testing.B) *Engine {
	b.Helper()
	e := NewEngine(EngineConfig{Rules: config.DefaultRules()})
	e.SetStarted(true)
	return e
}

// -----------------------------------------------------------------------------
// PROPOSAL BENCHMARKS
// -----------------------------------------------------------------------------

func BenchmarkLegalTargets(b *testing.B) {
	e := benchEngine(b)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, _, err := e.LegalTargets(TeamRed, 6); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPassTurn(b *testing.B) {
	e := benchEngine(b)
	team := TeamRed

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := e.ProposePassTurn(team); err != nil {
			b.Fatal(err)
		}
		team = team.Opponent()
	}
}

// -----------------------------------------------------------------------------
// SNAPSHOT AND REPLAY BENCHMARKS
// -----------------------------------------------------------------------------

func BenchmarkGetSnapshot(b *testing.B) {
	e := benchEngine(b)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = e.GetSnapshot()
	}
}

func BenchmarkReplay(b *testing.B) {
	e := benchEngine(b)
	if _, err := e.ProposeMove(TeamRed, 6, Pos{3, 2}); err != nil {
		b.Fatal(err)
	}
	team := TeamBlue
	for i := 0; i < 50; i++ {
		if err := e.ProposePassTurn(team); err != nil {
			b.Fatal(err)
		}
		team = team.Opponent()
	}
	history := e.History(0)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := Replay(history); err != nil {
			b.Fatal(err)
		}
	}
}
