// Package score implements the candidate asset scoring table as a pure
// function, so the enrichment pipeline can rank candidates without any
// dependency on the pipeline's own state.
package score

import "math"

// AssetType distinguishes the asset types the scoring table treats
// differently (poster/backdrop get distinct ideal pixels, poster/backdrop/
// logo get distinct aspect ratios; everything else falls to the generic
// case).
type AssetType string

const (
	TypePoster   AssetType = "poster"
	TypeBackdrop AssetType = "backdrop"
	TypeLogo     AssetType = "logo"
	TypeBanner   AssetType = "banner"
)

// Candidate is the subset of an analyzed candidate row the scorer needs.
type Candidate struct {
	AssetType         AssetType
	Width, Height     int
	VoteAverage       float64
	VoteCount         int
	Language          string // ISO 639-1, empty when language-neutral
	PreferredLanguage string
	ProviderRank      ProviderRank
}

// ProviderRank is the provider-rank sub-score input. Exact providers are
// named, so this stays a closed enum rather than a raw int.
type ProviderRank string

const (
	RankTMDB     ProviderRank = "tmdb"
	RankFanartTV ProviderRank = "fanarttv"
	RankTVDB     ProviderRank = "tvdb"
	RankOther    ProviderRank = "other"
)

// Breakdown holds every sub-score plus the rounded total, so callers that
// want to explain a ranking (logs, debugging) don't have to recompute.
type Breakdown struct {
	Resolution float64
	Aspect     float64
	Language   float64
	Votes      float64
	Provider   float64
	Total      int
}

// Score computes a candidate's 0-100 score.
func Score(c Candidate) Breakdown {
	b := Breakdown{
		Resolution: resolutionScore(c.AssetType, c.Width, c.Height),
		Aspect:     aspectScore(c.AssetType, c.Width, c.Height),
		Language:   languageScore(c.Language, c.PreferredLanguage),
		Votes:      votesScore(c.VoteAverage, c.VoteCount),
		Provider:   providerScore(c.ProviderRank),
	}
	sum := b.Resolution + b.Aspect + b.Language + b.Votes + b.Provider
	b.Total = int(math.Round(sum))
	return b
}

func idealPixels(t AssetType) float64 {
	switch t {
	case TypePoster:
		return 6e6
	case TypeBackdrop:
		return 2.07e6
	default:
		return 1e6
	}
}

func resolutionScore(t AssetType, w, h int) float64 {
	if w <= 0 || h <= 0 {
		return 0
	}
	pixels := float64(w) * float64(h)
	ratio := pixels / idealPixels(t)
	if ratio > 1.5 {
		ratio = 1.5
	}
	return ratio * 30
}

// idealAspectRatio returns the target ratio; logos
// have a fixed target (wide wordmarks), everything outside
// poster/backdrop/logo scores against its own observed ratio, which always
// yields a perfect aspect sub-score.
func idealAspectRatio(t AssetType, observed float64) float64 {
	switch t {
	case TypePoster:
		return 2.0 / 3.0
	case TypeBackdrop:
		return 16.0 / 9.0
	case TypeLogo:
		return 4.0
	default:
		return observed
	}
}

func aspectScore(t AssetType, w, h int) float64 {
	if w <= 0 || h <= 0 {
		return 0
	}
	observed := float64(w) / float64(h)
	ideal := idealAspectRatio(t, observed)
	s := 20 - 100*math.Abs(observed-ideal)
	if s < 0 {
		s = 0
	}
	return s
}

func languageScore(language, preferred string) float64 {
	switch {
	case language == "":
		return 18
	case preferred != "" && language == preferred:
		return 20
	case language == "en":
		return 15
	default:
		return 5
	}
}

func votesScore(voteAverage float64, voteCount int) float64 {
	countFactor := float64(voteCount) / 50
	if countFactor > 1 {
		countFactor = 1
	}
	return (voteAverage / 10) * countFactor * 20
}

func providerScore(r ProviderRank) float64 {
	switch r {
	case RankTMDB:
		return 10
	case RankFanartTV:
		return 9
	case RankTVDB:
		return 8
	default:
		return 5
	}
}
