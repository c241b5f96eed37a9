package cloud

import (
	"math"
	"sort"

	"github.com/vadiminshakov/trendcloud/internal/domain"
)

// prediction is one forward-projected price level from a convergence zone.
type prediction struct {
	price           float64
	weight          float64
	trendlineCount  int
	supportLines    int
	resistanceLines int
}

// cluster is a merged group of predictions.
type cluster struct {
	center          float64
	totalWeight     float64
	priceMin        float64
	priceMax        float64
	trendlineCount  int
	supportLines    int
	resistanceLines int
	mergedFrom      int
	softmaxWeight   float64
}

func (c cluster) cloudType() domain.CloudType {
	if c.supportLines > c.resistanceLines {
		return domain.CloudSupport
	}
	return domain.CloudResistance
}

// mergeClusters combines predictions whose prices lie within the relative
// merge threshold of a seed, single linkage over the price-sorted sequence.
// Centers are weight-averaged; weights and line counts sum.
func mergeClusters(preds []prediction, mergeThreshold float64) []cluster {
	if len(preds) == 0 {
		return nil
	}

	sorted := make([]prediction, len(preds))
	copy(sorted, preds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].price < sorted[j].price })

	var clusters []cluster
	used := make([]bool, len(sorted))

	for i := range sorted {
		if used[i] {
			continue
		}
		seed := sorted[i]
		c := cluster{
			center:          seed.price,
			totalWeight:     seed.weight,
			priceMin:        seed.price,
			priceMax:        seed.price,
			trendlineCount:  seed.trendlineCount,
			supportLines:    seed.supportLines,
			resistanceLines: seed.resistanceLines,
			mergedFrom:      1,
		}
		used[i] = true

		weightedSum := seed.price * seed.weight
		for j := i + 1; j < len(sorted); j++ {
			if used[j] {
				continue
			}
			if math.Abs(sorted[j].price-seed.price)/seed.price > mergeThreshold {
				// Sorted by price: nothing further can match this seed.
				break
			}
			p := sorted[j]
			c.totalWeight += p.weight
			weightedSum += p.price * p.weight
			c.priceMin = math.Min(c.priceMin, p.price)
			c.priceMax = math.Max(c.priceMax, p.price)
			c.trendlineCount += p.trendlineCount
			c.supportLines += p.supportLines
			c.resistanceLines += p.resistanceLines
			c.mergedFrom++
			used[j] = true
		}

		if c.totalWeight > 0 {
			c.center = weightedSum / c.totalWeight
		}
		clusters = append(clusters, c)
	}

	return clusters
}

// softmaxWeights converts cluster strengths into weights summing to 1.
// Strengths are normalized by their maximum before dividing by temperature,
// and the maximum logit is subtracted before exponentiation so small
// temperatures cannot overflow exp.
func softmaxWeights(strengths []float64, temperature float64) []float64 {
	n := len(strengths)
	if n == 0 {
		return nil
	}
	weights := make([]float64, n)
	if n == 1 {
		weights[0] = 1
		return weights
	}

	maxStrength := strengths[0]
	for _, s := range strengths[1:] {
		maxStrength = math.Max(maxStrength, s)
	}
	if maxStrength <= 0 {
		for i := range weights {
			weights[i] = 1 / float64(n)
		}
		return weights
	}

	if temperature < 1e-3 {
		temperature = 1e-3
	}

	logits := make([]float64, n)
	maxLogit := math.Inf(-1)
	for i, s := range strengths {
		logits[i] = (s / maxStrength) / temperature
		maxLogit = math.Max(maxLogit, logits[i])
	}

	var sum float64
	for i := range logits {
		weights[i] = math.Exp(logits[i] - maxLogit)
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}
