package classify

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/aminoscout/internal/model"
)

// DefaultLearnedThreshold is the minimum P(food) for a food label.
const DefaultLearnedThreshold = 0.60

//go:embed seeds.yaml
var defaultSeeds []byte

// Seeds are the labelled training phrases for the learned strategy.
type Seeds struct {
	Food []string `yaml:"food"`
	Junk []string `yaml:"junk"`
}

// LoadSeeds reads seeds from path, or the embedded set when path is empty.
func LoadSeeds(path string) (Seeds, error) {
	data := defaultSeeds
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Seeds{}, eris.Wrapf(err, "classify: read seeds %s", path)
		}
		data = b
	}

	var s Seeds
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Seeds{}, eris.Wrap(err, "classify: parse seeds")
	}
	if len(s.Food) == 0 || len(s.Junk) == 0 {
		return Seeds{}, eris.New("classify: seeds need at least one food and one junk phrase")
	}
	return s, nil
}

const (
	classFood = 0
	classJunk = 1
)

// Learned is a multinomial naive Bayes model over character n-grams,
// trained once at construction.
type Learned struct {
	threshold float64
	counts    [2]map[string]float64
	totals    [2]float64
	priors    [2]float64
	vocab     int
}

// NewLearned trains a Learned classifier on seeds. A non-positive threshold
// selects DefaultLearnedThreshold.
func NewLearned(seeds Seeds, threshold float64) *Learned {
	if threshold <= 0 {
		threshold = DefaultLearnedThreshold
	}
	l := &Learned{threshold: threshold}
	vocab := make(map[string]struct{})

	for class, phrases := range [2][]string{seeds.Food, seeds.Junk} {
		l.counts[class] = make(map[string]float64)
		for _, p := range phrases {
			for _, g := range ngrams(Prepare(p)) {
				l.counts[class][g]++
				l.totals[class]++
				vocab[g] = struct{}{}
			}
		}
	}
	l.vocab = len(vocab)

	n := float64(len(seeds.Food) + len(seeds.Junk))
	l.priors[classFood] = math.Log(float64(len(seeds.Food)) / n)
	l.priors[classJunk] = math.Log(float64(len(seeds.Junk)) / n)
	return l
}

// Classify implements Classifier.
func (l *Learned) Classify(_ context.Context, query string) (Result, error) {
	prepared := Prepare(query)
	if res, rejected := HardReject(query, prepared); rejected {
		return res, nil
	}

	p := l.ProbFood(prepared)
	if p >= l.threshold {
		return Result{Label: model.LabelFood, Score: p, Reason: fmt.Sprintf("nb_p_food=%.2f >= %.2f", p, l.threshold)}, nil
	}
	return Result{Label: model.LabelJunk, Score: p, Reason: fmt.Sprintf("nb_p_food=%.2f < %.2f", p, l.threshold)}, nil
}

// ProbFood returns the posterior probability that prepared text is food.
func (l *Learned) ProbFood(prepared string) float64 {
	var logp [2]float64
	grams := ngrams(prepared)
	for class := range logp {
		logp[class] = l.priors[class]
		denom := l.totals[class] + float64(l.vocab)
		for _, g := range grams {
			logp[class] += math.Log((l.counts[class][g] + 1) / denom)
		}
	}
	return 1 / (1 + math.Exp(logp[classJunk]-logp[classFood]))
}

// ngrams returns the character 2- to 4-grams of every word, each word padded
// with a leading and trailing space.
func ngrams(s string) []string {
	var out []string
	for _, w := range strings.Fields(s) {
		r := []rune(" " + w + " ")
		for n := 2; n <= 4; n++ {
			for i := 0; i+n <= len(r); i++ {
				out = append(out, string(r[i:i+n]))
			}
		}
	}
	return out
}
