package pattern

import (
	"math"

	"candlescan/internal/candle"
	"candlescan/internal/model"
)

// Pattern names.
const (
	LongWhiteCandle         = "LONG_WHITE_CANDLE"
	LongBlackCandle         = "LONG_BLACK_CANDLE"
	WhiteCandle             = "WHITE_CANDLE"
	BlackCandle             = "BLACK_CANDLE"
	Doji                    = "DOJI"
	LongLeggedDoji          = "LONG_LEGGED_DOJI"
	DragonflyDoji           = "DRAGONFLY_DOJI"
	GravestoneDoji          = "GRAVESTONE_DOJI"
	Hammer                  = "HAMMER"
	HangingMan              = "HANGING_MAN"
	InvertedHammer          = "INVERTED_HAMMER"
	InvertedBlackHammer     = "INVERTED_BLACK_HAMMER"
	ShootingStar            = "SHOOTING_STAR"
	LongLowerShadow         = "LONG_LOWER_SHADOW"
	LongUpperShadow         = "LONG_UPPER_SHADOW"
	Marubozu                = "MARUBOZU"
	SpinningTop             = "SPINNING_TOP"
	WhiteBody               = "WHITE_BODY"
	ShavenBottom            = "SHAVEN_BOTTOM"
	ShavenHead              = "SHAVEN_HEAD"
	BullishHarami           = "BULLISH_HARAMI"
	BullishHaramiCross      = "BULLISH_HARAMI_CROSS"
	BearishHarami           = "BEARISH_HARAMI"
	BearishHaramiCross      = "BEARISH_HARAMI_CROSS"
	EngulfingBullish        = "ENGULFING_BULLISH"
	EngulfingBearishLine    = "ENGULFING_BEARISH_LINE"
	PiercingLine            = "PIERCING_LINE"
	DarkCloudCover          = "DARK_CLOUD_COVER"
	OnNeckline              = "ON_NECKLINE"
	TweezerBottoms          = "TWEEZER_BOTTOMS"
	TweezerTops             = "TWEEZER_TOPS"
	RisingWindow            = "RISING_WINDOW"
	FallingWindow           = "FALLING_WINDOW"
	DojiStar                = "DOJI_STAR"
	MorningStar             = "MORNING_STAR"
	EveningStar             = "EVENING_STAR"
	MorningDojiStar         = "MORNING_DOJI_STAR"
	EveningDojiStar         = "EVENING_DOJI_STAR"
	AbandonedBaby           = "ABANDONED_BABY"
	ThreeWhiteSoldiers      = "THREE_WHITE_SOLDIERS"
	ThreeBlackCrows         = "THREE_BLACK_CROWS"
	TwoBlackGapping         = "TWO_BLACK_GAPPING"
	ThreeLineStrike         = "THREE_LINE_STRIKE"
	Bullish3MethodFormation = "BULLISH_3_METHOD_FORMATION"
	Bearish3MethodFormation = "BEARISH_3_METHOD_FORMATION"
)

const (
	starBodyRatio   = 0.30 // star body relative to the first candle's body
	equalityPercent = 0.05 // tolerance for "same level" comparisons
	trendSpan       = 3
	longShadowRatio = 2.0
)

// DefaultCatalog returns a new catalog holding the standard formations.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.MustRegister(StandardDefinitions()...)
	return c
}

// StandardDefinitions returns the built-in formations.
func StandardDefinitions() []Definition {
	var (
		white = candle.Is(candle.White)
		black = candle.Is(candle.Black)
		doji  = candle.Is(candle.DojiBody)

		ordinaryBody = candle.All(candle.Is(candle.AllShadow), candle.Is(candle.NoShadowLargerThanBody))

		hammerShape = candle.All(
			candle.Is(candle.SmallBody),
			candle.Not(doji),
			candle.Is(candle.LongLowerShadowOf(longShadowRatio)),
			candle.Is(candle.NearNoUpperShadow),
		)
		invertedShape = candle.All(
			candle.Is(candle.SmallBody),
			candle.Not(doji),
			candle.Is(candle.LongUpperShadowOf(longShadowRatio)),
			candle.Is(candle.NearNoLowerShadow),
		)

		downBefore = candle.Falling(1, trendSpan)
		upBefore   = candle.Rising(1, trendSpan)
	)

	return []Definition{
		// ── Long/regular candles ──
		{LongWhiteCandle, Bullish, 1, candle.All(white, ordinaryBody, candle.LongCandle, candle.LongLine)},
		{LongBlackCandle, Bearish, 1, candle.All(black, ordinaryBody, candle.LongCandle, candle.LongLine)},
		{WhiteCandle, Bullish, 1, candle.All(white, ordinaryBody, candle.LongLine, candle.Not(candle.LongCandle))},
		{BlackCandle, Bearish, 1, candle.All(black, ordinaryBody, candle.LongLine, candle.Not(candle.LongCandle))},

		// ── Single bar ──
		{Doji, Neutral, 1, candle.All(doji, candle.Is(candle.AllShadow), candle.ShortLine)},
		{LongLeggedDoji, Neutral, 1, candle.All(doji, candle.Is(candle.AllShadow), candle.LongLine)},
		{DragonflyDoji, Bullish, 1, candle.All(doji, candle.Is(candle.HasLowerShadow), candle.Is(candle.NearNoUpperShadow))},
		{GravestoneDoji, Bearish, 1, candle.All(doji, candle.Is(candle.HasUpperShadow), candle.Is(candle.NearNoLowerShadow))},
		{Hammer, Bullish, 5, candle.All(hammerShape, downBefore)},
		{HangingMan, Bearish, 5, candle.All(hammerShape, upBefore)},
		{InvertedHammer, Bullish, 5, candle.All(white, invertedShape, downBefore)},
		{InvertedBlackHammer, Bullish, 5, candle.All(black, invertedShape, downBefore)},
		{ShootingStar, Bearish, 5, candle.All(invertedShape, upBefore)},
		{LongLowerShadow, Bullish, 1, candle.All(candle.Not(doji), candle.Is(longShadowOfRange(candle.LowerShadow)))},
		{LongUpperShadow, Bearish, 1, candle.All(candle.Not(doji), candle.Is(longShadowOfRange(candle.UpperShadow)))},
		{Marubozu, Neutral, 1, candle.All(candle.Is(candle.NoShadow), candle.Is(candle.HasBody), candle.LongLine)},
		{SpinningTop, Neutral, 1, candle.All(candle.Is(candle.AllShadowLargerThanBody), candle.Not(doji))},
		{WhiteBody, Bullish, 1, candle.All(white, candle.Is(candle.NoShadowLargerThanBody), candle.ShortLine)},
		{ShavenBottom, Neutral, 1, candle.All(candle.Is(candle.HasBody), candle.Not(candle.Is(candle.HasLowerShadow)), candle.Is(candle.HasUpperShadow))},
		{ShavenHead, Neutral, 1, candle.All(candle.Is(candle.HasBody), candle.Not(candle.Is(candle.HasUpperShadow)), candle.Is(candle.HasLowerShadow))},

		// ── Two bars ──
		{BullishHarami, Bullish, 2, candle.All(candle.At(1, candle.Black), candle.Ago(1, candle.LongLine), white, bodyInsidePrior)},
		{BullishHaramiCross, Bullish, 2, candle.All(candle.At(1, candle.Black), candle.Ago(1, candle.LongLine), doji, bodyInsidePrior)},
		{BearishHarami, Bearish, 2, candle.All(candle.At(1, candle.White), candle.Ago(1, candle.LongLine), black, bodyInsidePrior)},
		{BearishHaramiCross, Bearish, 2, candle.All(candle.At(1, candle.White), candle.Ago(1, candle.LongLine), doji, bodyInsidePrior)},
		{EngulfingBullish, Bullish, 2, candle.All(candle.At(1, candle.Black), white, engulfsPrior)},
		{EngulfingBearishLine, Bearish, 2, candle.All(candle.At(1, candle.White), black, engulfsPrior)},
		{PiercingLine, Bullish, 2, candle.All(candle.At(1, candle.Black), candle.Ago(1, candle.LongLine), white, piercing)},
		{DarkCloudCover, Bearish, 2, candle.All(candle.At(1, candle.White), candle.Ago(1, candle.LongLine), black, darkCloud)},
		{OnNeckline, Bearish, 2, candle.All(candle.At(1, candle.Black), candle.Ago(1, candle.LongLine), white, onNeck)},
		{TweezerBottoms, Bullish, 2, candle.All(candle.At(1, candle.Black), white, sameLows)},
		{TweezerTops, Bearish, 2, candle.All(candle.At(1, candle.White), black, sameHighs)},
		{RisingWindow, Bullish, 2, gapUp},
		{FallingWindow, Bearish, 2, gapDown},
		{DojiStar, Neutral, 2, candle.All(candle.Ago(1, candle.LongLine), candle.At(1, candle.HasBody), doji, dojiGapsAway)},

		// ── Three bars ──
		{MorningStar, Bullish, 3, candle.All(morningStar, candle.Not(candle.At(1, candle.DojiBody)))},
		{EveningStar, Bearish, 3, candle.All(eveningStar, candle.Not(candle.At(1, candle.DojiBody)))},
		{MorningDojiStar, Bullish, 3, candle.All(morningStar, candle.At(1, candle.DojiBody))},
		{EveningDojiStar, Bearish, 3, candle.All(eveningStar, candle.At(1, candle.DojiBody))},
		{AbandonedBaby, Neutral, 3, abandonedBaby},
		{ThreeWhiteSoldiers, Bullish, 3, threeAdvancing(candle.White)},
		{ThreeBlackCrows, Bearish, 3, threeAdvancing(candle.Black)},
		{TwoBlackGapping, Bearish, 3, twoBlackGapping},

		// ── Four and five bars ──
		{ThreeLineStrike, Neutral, 4, threeLineStrike},
		{Bullish3MethodFormation, Bullish, 5, threeMethods(candle.White)},
		{Bearish3MethodFormation, Bearish, 5, threeMethods(candle.Black)},
	}
}

// ── Rule helpers ──

// nearlyEqual compares two price levels with a tolerance proportional to the
// larger range of the bars involved.
func nearlyEqual(a, b float64, x, y model.Bar) bool {
	tol := equalityPercent * math.Max(candle.Size(x), candle.Size(y))
	return math.Abs(a-b) <= tol
}

func longShadowOfRange(shadow func(model.Bar) float64) candle.BarPredicate {
	return func(b model.Bar) bool {
		sz := candle.Size(b)
		return sz > 0 && shadow(b) >= 2.0/3.0*sz
	}
}

func bodyInsidePrior(s candle.Series) bool {
	cur, prev := s.Bar(0), s.Bar(1)
	return candle.BodyTop(cur) < candle.BodyTop(prev) &&
		candle.BodyBottom(cur) > candle.BodyBottom(prev)
}

func engulfsPrior(s candle.Series) bool {
	cur, prev := s.Bar(0), s.Bar(1)
	return candle.BodyBottom(cur) <= candle.BodyBottom(prev) &&
		candle.BodyTop(cur) >= candle.BodyTop(prev) &&
		candle.Body(cur) > candle.Body(prev)
}

func piercing(s candle.Series) bool {
	cur, prev := s.Bar(0), s.Bar(1)
	return cur.Open < prev.Low && cur.Close > candle.BodyMid(prev) && cur.Close < prev.Open
}

func darkCloud(s candle.Series) bool {
	cur, prev := s.Bar(0), s.Bar(1)
	return cur.Open > prev.High && cur.Close < candle.BodyMid(prev) && cur.Close > prev.Open
}

func onNeck(s candle.Series) bool {
	cur, prev := s.Bar(0), s.Bar(1)
	return cur.Open < prev.Low && nearlyEqual(cur.Close, prev.Low, cur, prev)
}

func sameLows(s candle.Series) bool {
	cur, prev := s.Bar(0), s.Bar(1)
	return nearlyEqual(cur.Low, prev.Low, cur, prev)
}

func sameHighs(s candle.Series) bool {
	cur, prev := s.Bar(0), s.Bar(1)
	return nearlyEqual(cur.High, prev.High, cur, prev)
}

func gapUp(s candle.Series) bool { return s.Bar(0).Low > s.Bar(1).High }

func gapDown(s candle.Series) bool { return s.Bar(0).High < s.Bar(1).Low }

// dojiGapsAway holds when the doji's body opens beyond the prior body in the
// prior candle's direction.
func dojiGapsAway(s candle.Series) bool {
	cur, prev := s.Bar(0), s.Bar(1)
	if candle.White(prev) {
		return candle.BodyBottom(cur) > prev.Close
	}
	return candle.BodyTop(cur) < prev.Close
}

func isStar(first, star model.Bar) bool {
	return candle.Body(star) <= starBodyRatio*candle.Body(first)
}

func morningStar(s candle.Series) bool {
	if s.Len() < 3 || !candle.Black(s.Bar(2)) || !candle.White(s.Bar(0)) {
		return false
	}
	first, star, last := s.Bar(2), s.Bar(1), s.Bar(0)
	return candle.Ago(2, candle.LongLine)(s) &&
		isStar(first, star) &&
		candle.BodyTop(star) < first.Close &&
		last.Close > candle.BodyMid(first)
}

func eveningStar(s candle.Series) bool {
	if s.Len() < 3 || !candle.White(s.Bar(2)) || !candle.Black(s.Bar(0)) {
		return false
	}
	first, star, last := s.Bar(2), s.Bar(1), s.Bar(0)
	return candle.Ago(2, candle.LongLine)(s) &&
		isStar(first, star) &&
		candle.BodyBottom(star) > first.Close &&
		last.Close < candle.BodyMid(first)
}

func abandonedBaby(s candle.Series) bool {
	if s.Len() < 3 {
		return false
	}
	first, baby, last := s.Bar(2), s.Bar(1), s.Bar(0)
	if !candle.DojiBody(baby) {
		return false
	}
	if candle.Black(first) && candle.White(last) {
		return baby.High < first.Low && baby.High < last.Low
	}
	if candle.White(first) && candle.Black(last) {
		return baby.Low > first.High && baby.Low > last.High
	}
	return false
}

// threeAdvancing builds THREE_WHITE_SOLDIERS (colour White) and
// THREE_BLACK_CROWS (colour Black).
func threeAdvancing(colour candle.BarPredicate) candle.Predicate {
	return func(s candle.Series) bool {
		if s.Len() < 3 {
			return false
		}
		for i := 0; i < 3; i++ {
			b := s.Bar(i)
			if !colour(b) || !candle.NoShadowLargerThanBody(b) {
				return false
			}
		}
		for i := 0; i < 2; i++ {
			cur, prev := s.Bar(i), s.Bar(i+1)
			if candle.White(cur) && cur.Close <= prev.Close {
				return false
			}
			if candle.Black(cur) && cur.Close >= prev.Close {
				return false
			}
			if cur.Open < candle.BodyBottom(prev) || cur.Open > candle.BodyTop(prev) {
				return false
			}
		}
		return true
	}
}

func twoBlackGapping(s candle.Series) bool {
	if s.Len() < 3 {
		return false
	}
	first, gapper, last := s.Bar(2), s.Bar(1), s.Bar(0)
	return candle.Black(gapper) && candle.Black(last) &&
		gapper.High < first.Low &&
		last.High < gapper.High && last.Close < gapper.Close
}

func threeLineStrike(s candle.Series) bool {
	if s.Len() < 4 {
		return false
	}
	strike := s.Bar(0)
	b1, b2, b3 := s.Bar(1), s.Bar(2), s.Bar(3)

	bullish := candle.Black(b1) && candle.Black(b2) && candle.Black(b3) &&
		b1.Close < b2.Close && b2.Close < b3.Close &&
		candle.White(strike) && strike.Open < b1.Close && strike.Close > b3.Open

	bearish := candle.White(b1) && candle.White(b2) && candle.White(b3) &&
		b1.Close > b2.Close && b2.Close > b3.Close &&
		candle.Black(strike) && strike.Open > b1.Close && strike.Close < b3.Open

	return bullish || bearish
}

// threeMethods builds the rising (White) and falling (Black) three-method
// formations: a long candle, three small bodies held inside its range, then a
// candle of the same colour closing beyond it.
func threeMethods(colour candle.BarPredicate) candle.Predicate {
	return func(s candle.Series) bool {
		if s.Len() < 5 {
			return false
		}
		first, last := s.Bar(4), s.Bar(0)
		if !colour(first) || !colour(last) || !candle.Ago(4, candle.LongLine)(s) {
			return false
		}
		for i := 1; i <= 3; i++ {
			b := s.Bar(i)
			if candle.Body(b) >= candle.Body(first) || b.High > first.High || b.Low < first.Low {
				return false
			}
		}
		if candle.White(first) {
			return last.Close > first.Close
		}
		return last.Close < first.Close
	}
}
