package predictor_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/hermessim/internal/predictor"
)

var _ = Describe("Predictor", func() {
	fixedState := predictor.State{
		PC:             0x401000,
		VPage:          0x10,
		PageOffset:     64,
		FirstAccess:    true,
		LineWordOffset: 3,
		LastNLoadPCSig: 0xabcdef,
	}

	It("saturates every feature counter at +31 after repeated off-chip training (S5)", func() {
		p := predictor.New(0)

		var last predictor.Outcome
		for i := 0; i < 32; i++ {
			last = p.Predict(fixedState)
			p.Train(last, true)
		}

		final := p.Predict(fixedState)
		Expect(final.Sum).To(Equal(6 * predictor.CounterMax))
	})

	It("saturates every feature counter at -32 after repeated on-chip training (S5)", func() {
		p := predictor.New(0)

		for i := 0; i < 32; i++ {
			o := p.Predict(fixedState)
			p.Train(o, true)
		}

		for i := 0; i < 64; i++ {
			o := p.Predict(fixedState)
			p.Train(o, false)
		}

		final := p.Predict(fixedState)
		Expect(final.Sum).To(Equal(6 * predictor.CounterMin))
	})

	It("never lets a counter exit [-32, +31] (invariant OP1)", func() {
		p := predictor.New(0)
		for i := 0; i < 200; i++ {
			o := p.Predict(fixedState)
			p.Train(o, i%2 == 0)
		}
		final := p.Predict(fixedState)
		Expect(final.Sum).To(BeNumerically(">=", 6*predictor.CounterMin))
		Expect(final.Sum).To(BeNumerically("<=", 6*predictor.CounterMax))
	})

	It("classifies off-chip when the weighted sum reaches the threshold", func() {
		p := predictor.New(10)
		o := p.Predict(fixedState)
		Expect(o.Predicted).To(BeFalse())

		for i := 0; i < 5; i++ {
			o = p.Predict(fixedState)
			p.Train(o, true)
		}
		o = p.Predict(fixedState)
		Expect(o.Predicted).To(BeTrue())
	})

	It("tracks confusion-matrix stats across training", func() {
		p := predictor.New(0)
		o := p.Predict(fixedState)
		p.Train(o, true)
		Expect(p.Stats.TruePositive + p.Stats.FalseNegative).To(Equal(uint64(1)))
	})

	It("reports precision and recall from the confusion matrix", func() {
		p := predictor.New(0)
		for i := 0; i < 3; i++ {
			o := p.Predict(fixedState)
			p.Train(o, true)
		}
		Expect(p.Stats.Precision()).To(BeNumerically("~", 1.0))
		Expect(p.Stats.Recall()).To(BeNumerically("~", 1.0))
	})

	It("reports a positive correlation once the sum consistently predicts the outcome", func() {
		p := predictor.New(0)
		hot := predictor.State{PC: 0x1000}
		cold := predictor.State{PC: 0x2000}

		for i := 0; i < 20; i++ {
			o := p.Predict(hot)
			p.Train(o, true)
			o = p.Predict(cold)
			p.Train(o, false)
		}

		Expect(p.Correlation()).To(BeNumerically(">", 0.5))
	})
})
