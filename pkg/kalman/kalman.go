package kalman

import (
	"errors"
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ERR_DIMS              = errors.New("Bad filter dimensions")
	ERR_MEASUREMENT_SHAPE = errors.New("Measurement has wrong shape")
	ERR_SINGULAR          = errors.New("Innovation covariance is not positive definite")
)

const (
	DefaultPSigma = 0.1
	DefaultQSigma = 1e-4
	DefaultRSigma = 0.1
)

// Matrices that may be left unset (nil). Unset or mis-shaped
// matrices are replaced with defaults by Init.
type Optional struct {
	B, H, P, Q, R mat.Matrix
}

type Option func(*Filter)

// Scales of the default diagonal P, Q and R
func WithSigmas(p_sigma, q_sigma, r_sigma float64) Option {
	return func(kf *Filter) {
		kf.p_sigma, kf.q_sigma, kf.r_sigma = p_sigma, q_sigma, r_sigma
	}
}

// Seeds the source of the noise added to measurement estimates
func WithNoise(seed uint64) Option {
	return func(kf *Filter) {
		kf.src = rand.NewSource(seed)
	}
}

// Estimates are returned as exact H·x
func WithoutNoise() Option {
	return func(kf *Filter) {
		kf.src = nil
	}
}

// Linear Kalman filter with n state, m measurement and
// l control dimensions
type Filter struct {
	n, m, l                   int
	p_sigma, q_sigma, r_sigma float64

	a, b, h, p, q, r *mat.Dense
	x                *mat.VecDense

	src rand.Source
}

func NewFilter(n, m, l int, opts ...Option) (*Filter, error) {
	if n < 1 || m < 1 || l < 0 {
		return nil, fmt.Errorf("n=%d, m=%d, l=%d: %w", n, m, l, ERR_DIMS)
	}
	kf := &Filter{
		n: n, m: m, l: l,
		p_sigma: DefaultPSigma,
		q_sigma: DefaultQSigma,
		r_sigma: DefaultRSigma,
		src:     rand.NewSource(1),
	}
	for _, opt := range opts {
		opt(kf)
	}
	kf.Init(nil, nil, Optional{})
	return kf, nil
}

// Binds the model. Nothing here fails: whatever is missing or
// has the wrong shape gets a default (A = I, x = 0, B = H = 0,
// P, Q, R = I scaled by their sigma). Inputs are copied.
func (kf *Filter) Init(A mat.Matrix, x mat.Vector, opt Optional) {
	n, m, l := kf.n, kf.m, kf.l

	kf.a = copyOr(A, n, n, func() *mat.Dense { return eye(n, 1) })
	if x != nil && x.Len() == n {
		kf.x = mat.VecDenseCopyOf(x)
	} else {
		kf.x = mat.NewVecDense(n, nil)
	}
	// gonum refuses zero sized matrices, no control means no B
	kf.b = nil
	if l > 0 {
		kf.b = copyOr(opt.B, n, l, func() *mat.Dense { return mat.NewDense(n, l, nil) })
	}
	kf.h = copyOr(opt.H, m, n, func() *mat.Dense { return mat.NewDense(m, n, nil) })
	kf.p = copyOr(opt.P, n, n, func() *mat.Dense { return eye(n, kf.p_sigma) })
	kf.q = copyOr(opt.Q, n, n, func() *mat.Dense { return eye(n, kf.q_sigma) })
	kf.r = copyOr(opt.R, m, m, func() *mat.Dense { return eye(m, kf.r_sigma) })
}

// Time update: x = A·x + B·u, P = A·P·Aᵗ + Q. A nil or
// mis-shaped u counts as zero. Returns the expected measurement.
func (kf *Filter) Predict(u mat.Vector) *mat.VecDense {
	next_x := mat.NewVecDense(kf.n, nil)
	next_x.MulVec(kf.a, kf.x)
	if kf.b != nil && u != nil && u.Len() == kf.l {
		bu := mat.NewVecDense(kf.n, nil)
		bu.MulVec(kf.b, u)
		next_x.AddVec(next_x, bu)
	}
	kf.x = next_x

	var ap, apa mat.Dense
	ap.Mul(kf.a, kf.p)
	apa.Mul(&ap, kf.a.T())
	apa.Add(&apa, kf.q)
	kf.p = symmetrize(&apa)

	return kf.generate()
}

// Measurement update with z. On error the state is left as is.
func (kf *Filter) Correct(z mat.Vector) (*mat.VecDense, error) {
	if z == nil || z.Len() != kf.m {
		return nil, fmt.Errorf("Expected %d components: %w", kf.m, ERR_MEASUREMENT_SHAPE)
	}

	// S = H·P·Hᵗ + R
	var hp, s mat.Dense
	hp.Mul(kf.h, kf.p)
	s.Mul(&hp, kf.h.T())
	s.Add(&s, kf.r)

	var chol mat.Cholesky
	if ok := chol.Factorize(symmetric(&s)); !ok {
		return nil, ERR_SINGULAR
	}

	// K = P·Hᵗ·S⁻¹, so Kᵗ = S⁻¹·H·P with P and S symmetric
	var kt mat.Dense
	if err := chol.SolveTo(&kt, &hp); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("Can't compute gain: %w", errors.Join(err, ERR_SINGULAR))
		}
	}

	hx := mat.NewVecDense(kf.m, nil)
	hx.MulVec(kf.h, kf.x)
	innovation := mat.NewVecDense(kf.m, nil)
	innovation.SubVec(z, hx)

	gain := kt.T()
	step := mat.NewVecDense(kf.n, nil)
	step.MulVec(gain, innovation)
	kf.x.AddVec(kf.x, step)

	var kh, next_p mat.Dense
	kh.Mul(gain, kf.h)
	ikh := eye(kf.n, 1)
	ikh.Sub(ikh, &kh)
	next_p.Mul(ikh, kf.p)
	kf.p = symmetrize(&next_p)

	return kf.generate(), nil
}

// H·x plus zero mean noise scaled by ‖R‖
func (kf *Filter) generate() *mat.VecDense {
	estimate := kf.Expected()
	if kf.src == nil {
		return estimate
	}
	noise := distuv.Normal{Mu: 0, Sigma: mat.Norm(kf.r, 2), Src: kf.src}
	for i := range kf.m {
		estimate.SetVec(i, estimate.AtVec(i)+noise.Rand())
	}
	return estimate
}

// Noise free H·x
func (kf *Filter) Expected() *mat.VecDense {
	hx := mat.NewVecDense(kf.m, nil)
	hx.MulVec(kf.h, kf.x)
	return hx
}

func (kf *Filter) State() *mat.VecDense  { return mat.VecDenseCopyOf(kf.x) }
func (kf *Filter) Covariance() *mat.Dense { return mat.DenseCopyOf(kf.p) }
func (kf *Filter) Dims() (n, m, l int)    { return kf.n, kf.m, kf.l }

func eye(n int, scale float64) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := range n {
		d.Set(i, i, scale)
	}
	return d
}

func copyOr(m mat.Matrix, r, c int, fallback func() *mat.Dense) *mat.Dense {
	if m == nil {
		return fallback()
	}
	if mr, mc := m.Dims(); mr != r || mc != c {
		return fallback()
	}
	return mat.DenseCopyOf(m)
}

func symmetrize(m *mat.Dense) *mat.Dense {
	r, _ := m.Dims()
	out := mat.NewDense(r, r, nil)
	for i := range r {
		for j := range r {
			out.Set(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}
	return out
}

func symmetric(m *mat.Dense) *mat.SymDense {
	r, _ := m.Dims()
	sym := mat.NewSymDense(r, nil)
	for i := range r {
		for j := i; j < r; j++ {
			sym.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}
	return sym
}
