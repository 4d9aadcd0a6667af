package pattern

import (
	"testing"

	"candlescan/internal/model"
)

// oldestFirst builds a window from bars listed in chronological order.
func oldestFirst(bars ...model.Bar) model.Window {
	return model.WindowFromOldest(bars)
}

func TestCatalog_Formations(t *testing.T) {
	downtrend := []model.Bar{
		bar(112, 113, 109, 110),
		bar(110, 111, 107, 108),
		bar(108, 109, 105, 106),
		bar(106, 107, 103, 104),
	}
	uptrend := []model.Bar{
		bar(90, 93, 89, 92),
		bar(92, 95, 91, 94),
		bar(94, 97, 93, 96),
		bar(96, 99, 95, 98),
	}
	hammer := bar(100, 101.05, 97, 101)

	tests := []struct {
		name    string
		w       model.Window
		match   []string
		noMatch []string
	}{
		{
			name:    "hammer after decline",
			w:       oldestFirst(append(downtrend, hammer)...),
			match:   []string{Hammer},
			noMatch: []string{HangingMan, ShootingStar, Doji},
		},
		{
			name:    "hanging man after advance",
			w:       oldestFirst(append(uptrend, hammer)...),
			match:   []string{HangingMan},
			noMatch: []string{Hammer},
		},
		{
			name:    "shooting star after advance",
			w:       oldestFirst(append(uptrend, bar(101, 104, 99.95, 100))...),
			match:   []string{ShootingStar},
			noMatch: []string{InvertedHammer, InvertedBlackHammer, HangingMan},
		},
		{
			name: "doji after wide bars",
			w: oldestFirst(
				bar(100, 102, 98, 101), bar(100, 102, 98, 101), bar(100, 102, 98, 101),
				bar(100, 100.5, 99.5, 100.02),
			),
			match:   []string{Doji},
			noMatch: []string{LongLeggedDoji, DragonflyDoji, GravestoneDoji, SpinningTop},
		},
		{
			name:    "dragonfly doji",
			w:       oldestFirst(bar(100, 102, 98, 101), bar(100, 100.05, 97, 100)),
			match:   []string{DragonflyDoji},
			noMatch: []string{GravestoneDoji, Doji},
		},
		{
			name:    "marubozu",
			w:       oldestFirst(bar(100, 101.25, 99.75, 101), bar(100, 105, 100, 105)),
			match:   []string{Marubozu},
			noMatch: []string{ShavenBottom, ShavenHead},
		},
		{
			name:    "bullish engulfing",
			w:       oldestFirst(bar(105, 106, 99, 100), bar(99, 107, 98, 106)),
			match:   []string{EngulfingBullish},
			noMatch: []string{EngulfingBearishLine, BullishHarami},
		},
		{
			name:    "bearish engulfing",
			w:       oldestFirst(bar(100, 106, 99, 105), bar(106, 107, 98, 99)),
			match:   []string{EngulfingBearishLine},
			noMatch: []string{EngulfingBullish},
		},
		{
			name:    "bullish harami",
			w:       oldestFirst(bar(110, 111, 99, 100), bar(103, 106, 102, 105)),
			match:   []string{BullishHarami},
			noMatch: []string{BullishHaramiCross, BearishHarami},
		},
		{
			name:    "bullish harami cross",
			w:       oldestFirst(bar(110, 111, 99, 100), bar(105.1, 107, 103, 105)),
			match:   []string{BullishHaramiCross},
			noMatch: []string{BullishHarami},
		},
		{
			name:    "piercing line",
			w:       oldestFirst(bar(110, 111, 100, 101), bar(99, 108, 98.5, 107)),
			match:   []string{PiercingLine},
			noMatch: []string{DarkCloudCover, EngulfingBullish},
		},
		{
			name:    "dark cloud cover",
			w:       oldestFirst(bar(100, 111, 99, 110), bar(112, 112.5, 102, 103)),
			match:   []string{DarkCloudCover},
			noMatch: []string{PiercingLine},
		},
		{
			name:    "rising window",
			w:       oldestFirst(bar(100, 102, 99, 101), bar(103, 105, 102.5, 104)),
			match:   []string{RisingWindow},
			noMatch: []string{FallingWindow},
		},
		{
			name:    "falling window",
			w:       oldestFirst(bar(101, 102, 99, 100), bar(97, 98, 95, 96)),
			match:   []string{FallingWindow},
			noMatch: []string{RisingWindow},
		},
		{
			name:    "tweezer bottoms",
			w:       oldestFirst(bar(105, 106, 99, 100), bar(100.5, 104, 99.1, 103)),
			match:   []string{TweezerBottoms},
			noMatch: []string{TweezerTops},
		},
		{
			name: "morning star",
			w: oldestFirst(
				bar(110, 111, 99, 100), bar(98, 99, 96, 97.5), bar(99, 108, 98.5, 107),
			),
			match:   []string{MorningStar},
			noMatch: []string{MorningDojiStar, EveningStar},
		},
		{
			name: "morning doji star",
			w: oldestFirst(
				bar(110, 111, 99, 100), bar(97.5, 99, 96, 97.55), bar(99, 108, 98.5, 107),
			),
			match:   []string{MorningDojiStar},
			noMatch: []string{MorningStar},
		},
		{
			name: "evening star",
			w: oldestFirst(
				bar(100, 111, 99, 110), bar(112, 114, 111, 112.5), bar(111, 111.5, 102, 103),
			),
			match:   []string{EveningStar},
			noMatch: []string{MorningStar, EveningDojiStar},
		},
		{
			name: "abandoned baby",
			w: oldestFirst(
				bar(110, 111, 99, 100), bar(97, 98, 96, 97.05), bar(100, 108, 99, 107),
			),
			match: []string{AbandonedBaby},
		},
		{
			name: "three white soldiers",
			w: oldestFirst(
				bar(100, 105.5, 99.5, 105), bar(103, 109.5, 102.5, 109), bar(107, 113.5, 106.5, 113),
			),
			match:   []string{ThreeWhiteSoldiers},
			noMatch: []string{ThreeBlackCrows},
		},
		{
			name: "three black crows",
			w: oldestFirst(
				bar(113, 113.5, 106.5, 107), bar(109, 109.5, 102.5, 103), bar(105, 105.5, 99.5, 100),
			),
			match:   []string{ThreeBlackCrows},
			noMatch: []string{ThreeWhiteSoldiers},
		},
		{
			name: "two black gapping",
			w: oldestFirst(
				bar(110, 111, 104, 105), bar(102, 103, 98, 99), bar(101, 102, 96, 97),
			),
			match: []string{TwoBlackGapping},
		},
		{
			name: "bullish three line strike",
			w: oldestFirst(
				bar(110, 111, 105, 106), bar(107, 108, 102, 103), bar(104, 105, 99, 100),
				bar(99, 112, 98, 111),
			),
			match: []string{ThreeLineStrike},
		},
		{
			name: "rising three methods",
			w: oldestFirst(
				bar(100, 111, 99, 110),
				bar(109, 109.5, 106, 107), bar(107, 108, 105, 106), bar(106, 107.5, 104, 105),
				bar(106, 114, 105.5, 113),
			),
			match:   []string{Bullish3MethodFormation},
			noMatch: []string{Bearish3MethodFormation},
		},
	}

	e := NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, name := range tt.match {
				got, err := e.TestPattern(name, tt.w)
				if err != nil {
					t.Fatalf("%s: unexpected error: %v", name, err)
				}
				if !got {
					t.Errorf("%s should match", name)
				}
			}
			for _, name := range tt.noMatch {
				got, err := e.TestPattern(name, tt.w)
				if err != nil {
					t.Fatalf("%s: unexpected error: %v", name, err)
				}
				if got {
					t.Errorf("%s should not match", name)
				}
			}
		})
	}
}

func TestCatalog_MultiBarPatternsNeedHistory(t *testing.T) {
	e := NewEngine()
	single := oldestFirst(bar(99, 107, 98, 106))
	for _, d := range e.Catalog().Definitions() {
		if d.MinBars < 2 {
			continue
		}
		got, err := e.TestPattern(d.Name, single)
		if err != nil || got {
			t.Errorf("%s on 1 bar: got %v, %v; want false, nil", d.Name, got, err)
		}
	}
}
