package encode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// 16:9 is an aspect of 1.777..., below the 1.78 width threshold, so
// these standard resolutions are categorized by height.
func TestCategoryStandardSixteenByNineResolutions(t *testing.T) {
	require.Equal(t, Scene720p, Category(1280, 720))
	require.Equal(t, Scene1080p, Category(1920, 1080))
	require.Equal(t, Scene2160p, Category(3840, 2160))
}

func TestCategoryNarrowAspectFallsBackToHeight(t *testing.T) {
	require.Equal(t, Scene1080p, Category(1080, 1080))
}

func TestBudgetMatchesCategory(t *testing.T) {
	require.Equal(t, 0.30, Budget(Scene720p))
	require.Equal(t, 0.60, Budget(Scene1080p))
	require.Equal(t, 0.70, Budget(Scene2160p))
}

func TestPassesSceneRulesBoundary(t *testing.T) {
	require.True(t, PassesSceneRules(600, 1000, 1920, 1080))
	require.False(t, PassesSceneRules(601, 1000, 1920, 1080))
}

func TestBitrateKbpsFloors(t *testing.T) {
	// budget_bytes*8/1000/duration = 1000*8/1000/3 = 2.667 -> floors to 2.
	require.Equal(t, int64(2), BitrateKbps(1000, 3))
}

func TestBitrateKbpsZeroDuration(t *testing.T) {
	require.Equal(t, int64(0), BitrateKbps(1000, 0))
}

func TestLevelHighResHighFPS(t *testing.T) {
	require.Equal(t, "5.2", Level(2160, 60, false))
}

func TestLevelHighResLowFPS(t *testing.T) {
	require.Equal(t, "5.1", Level(2160, 24, false))
}

func TestLevelMidResHighFPS(t *testing.T) {
	require.Equal(t, "4.2", Level(1080, 60, false))
}

func TestLevelDefault(t *testing.T) {
	require.Equal(t, "4.1", Level(720, 30, false))
}

func TestLevelH265CollapsesFourTwo(t *testing.T) {
	require.Equal(t, "4.1", Level(1080, 60, true))
}
