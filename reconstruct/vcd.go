package reconstruct

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/caden-cardell/mbirjax/gonumExtensions"
	"github.com/caden-cardell/mbirjax/metrics"
	"github.com/caden-cardell/mbirjax/params"
	"github.com/caden-cardell/mbirjax/partition"
	"github.com/caden-cardell/mbirjax/prior"
	"github.com/caden-cardell/mbirjax/projector"
	"github.com/caden-cardell/mbirjax/volume"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Smallest step taken along a subset update direction
const minAlpha = 1e-4

// ErrNonFinite is returned for inputs holding NaN or Inf.
var ErrNonFinite = errors.New("input holds NaN or Inf")

// VCD is the vectorized coordinate descent solver.
type VCD struct {
	model      Model
	sinogram   *projector.Sinogram
	params     params.Params
	weights    *projector.Sinogram
	init       *volume.Volume
	prior      prior.Prior
	priorLoss  bool
	logger     *log.Logger
	// Set by NewProxMap; the prior is built once sigma_x is known
	proxTarget *volume.Volume
}

// NewVCD returns a solver for sinogram with the qGGMRF prior described by p.
func NewVCD(model Model, sinogram *projector.Sinogram, p params.Params, opts ...Option) (*VCD, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	g := model.Geometry()
	if sinogram.Shape() != g.SinogramShape {
		return nil, errors.Wrapf(projector.ErrShapeMismatch, "sinogram shape %v, geometry expects %v", sinogram.Shape(), g.SinogramShape)
	}
	if gonumExtensions.HasNaNOrInf(sinogram.Data) {
		return nil, errors.Wrap(ErrNonFinite, "sinogram")
	}
	v := &VCD{model: model, sinogram: sinogram, params: p, logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(v)
	}
	if v.weights != nil && gonumExtensions.HasNaNOrInf(v.weights.Data) {
		return nil, errors.Wrap(ErrNonFinite, "weights")
	}
	if v.weights != nil && v.weights.Shape() != g.SinogramShape {
		return nil, errors.Wrapf(projector.ErrShapeMismatch, "weights shape %v, sinogram shape %v", v.weights.Shape(), g.SinogramShape)
	}
	if v.init != nil && v.init.Shape() != g.ReconShape {
		return nil, errors.Wrapf(volume.ErrShapeMismatch, "initial recon shape %v, geometry expects %v", v.init.Shape(), g.ReconShape)
	}
	if v.init != nil && gonumExtensions.NANORINF(v.init.Pixels()) {
		return nil, errors.Wrap(ErrNonFinite, "initial recon")
	}
	return v, nil
}

// NewProxMap returns a solver for the proximal map of the forward model at
// target, that is the qGGMRF prior is replaced by |x - target|^2 / (2 sigma_prox^2).
// The initial reconstruction defaults to target.
func NewProxMap(model Model, sinogram *projector.Sinogram, target *volume.Volume, p params.Params, opts ...Option) (*VCD, error) {
	if target.Shape() != model.Geometry().ReconShape {
		return nil, errors.Wrapf(volume.ErrShapeMismatch, "prox target shape %v, geometry expects %v", target.Shape(), model.Geometry().ReconShape)
	}
	v, err := NewVCD(model, sinogram, p, append([]Option{WithInitialRecon(target)}, opts...)...)
	if err != nil {
		return nil, err
	}
	v.proxTarget = target
	return v, nil
}

// AutoSigmaY returns the noise standard deviation implied by the signal
// to noise ratio of the weighted sinogram.
func AutoSigmaY(sinogram, weights *projector.Sinogram, snrDB float64) float64 {
	var sum float64
	for index, value := range sinogram.Data {
		sum += weights.Data[index] * value * value
	}
	rms := math.Sqrt(sum / float64(len(sinogram.Data)))
	return rms * math.Pow(10, -snrDB/20)
}

// AutoSigmaX returns the prior scale from the typical voxel value
// mean|y| / (channels * delta_det_channel) and the sharpness.
func AutoSigmaX(sinogram *projector.Sinogram, g *projector.Geometry, sharpness float64) float64 {
	var sum float64
	for _, value := range sinogram.Data {
		sum += math.Abs(value)
	}
	typical := sum / float64(len(sinogram.Data)) / (float64(g.SinogramShape[2]) * g.DeltaDetChannel)
	return 0.2 * math.Pow(2, sharpness) * typical
}

// problem holds everything the iterations share.
type problem struct {
	*VCD
	runID   uuid.UUID
	entry   *log.Entry
	rng     *rand.Rand
	sigmaY  float64
	sigmaX  float64
	// prior and weights resolved from the configured ones and the defaults
	active  prior.Prior
	lambda  *projector.Sinogram
	hessian *volume.Volume
	// error sinogram y - Ax and its weighted version Lambda e
	err         *projector.Sinogram
	weightedErr *projector.Sinogram
}

func (v *VCD) setup(ctx context.Context, runID uuid.UUID) (*problem, *volume.Volume, error) {
	g := v.model.Geometry()
	logger := v.logger.WithField("run_id", runID)
	pr := &problem{VCD: v, runID: runID, entry: logger}
	pr.rng = rand.New(rand.NewPCG(v.params.Seed, v.params.Seed^0x9e3779b97f4a7c15))

	weights := v.weights
	if weights == nil {
		weights = v.sinogram.Ones()
	}
	pr.lambda = weights
	pr.sigmaY = v.params.SigmaY
	if pr.sigmaY <= 0 {
		pr.sigmaY = AutoSigmaY(v.sinogram, weights, v.params.SNRdB)
	}
	pr.sigmaX = v.params.SigmaX
	if pr.sigmaX <= 0 {
		pr.sigmaX = AutoSigmaX(v.sinogram, g, v.params.Sharpness)
	}
	// An all zero sinogram leaves nothing to scale by
	if pr.sigmaY <= 0 {
		pr.sigmaY = 1
	}
	if pr.sigmaX <= 0 {
		pr.sigmaX = 1
	}

	switch {
	case v.prior != nil:
		pr.active = v.prior
	case v.proxTarget != nil:
		sigma := v.params.SigmaProx
		if sigma <= 0 {
			sigma = pr.sigmaX
		}
		pr.active = &prior.ProxMap{Sigma: sigma, Target: v.proxTarget}
	default:
		pr.active = prior.NewQGGMRF(v.params.P, v.params.Q, v.params.T, pr.sigmaX)
	}

	hessian, err := v.model.HessianDiagonal(ctx, weights)
	if err != nil {
		return nil, nil, err
	}
	floats.Scale(1/(pr.sigmaY*pr.sigmaY), hessian.Data)
	pr.hessian = hessian

	shape := g.ReconShape
	x := volume.New(shape[0], shape[1], shape[2])
	pr.err = v.sinogram.Clone()
	if v.init != nil {
		x = v.init.Clone()
		if err := x.ApplyMask(partition.RORMask(shape[0], shape[1])); err != nil {
			return nil, nil, err
		}
		indices := partition.FullIndices(shape[0], shape[1])
		ax, err := v.model.SparseForwardProject(ctx, x.Gather(indices), indices)
		if err != nil {
			return nil, nil, err
		}
		floats.Sub(pr.err.Data, ax.Data)
	}
	pr.weightedErr = pr.err.Clone()
	floats.Mul(pr.weightedErr.Data, weights.Data)

	logger.WithFields(log.Fields{
		"sigma_y":     pr.sigmaY,
		"sigma_x":     pr.sigmaX,
		"recon_shape": shape,
	}).Info("starting reconstruction")
	logger.WithFields(v.params.Fields()).Debug("parameters")
	return pr, x, nil
}

// Reconstruct runs the iterations until the relative change of the
// reconstruction drops below the stop threshold or the iteration limit is
// reached. Cancelling ctx aborts between subset updates.
func (v *VCD) Reconstruct(ctx context.Context) (*volume.Volume, *Info, error) {
	runID := uuid.New()
	pr, x, err := v.setup(ctx, runID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "reconstruction setup")
	}
	shape := v.model.Geometry().ReconShape

	kind, err := partition.ByKind(v.params.PartitionKind)
	if err != nil {
		return nil, nil, err
	}
	partitions, err := partition.SetOf(kind, shape[0], shape[1], v.params.Granularity, pr.rng)
	if err != nil {
		return nil, nil, errors.Wrap(err, "building partitions")
	}
	sequence := partition.Sequence(v.params.PartitionSequence, v.params.MaxIterations)

	info := &Info{RunID: runID, SigmaY: pr.sigmaY, SigmaX: pr.sigmaX, Params: v.params}
	for iteration, index := range sequence {
		start := time.Now()
		previous := x.Clone()
		alpha, err := pr.iterate(ctx, x, partitions[index])
		if err != nil {
			return nil, nil, errors.Wrapf(err, "iteration %v", iteration)
		}

		fmRMSE := pr.fmRMSE()
		var change float64
		if norm := x.Norm(); norm > 0 {
			floats.Sub(previous.Data, x.Data)
			change = 100 * previous.Norm() / norm
		}
		info.NumIterations++
		info.FMRMSE = append(info.FMRMSE, fmRMSE)
		info.Alpha = append(info.Alpha, alpha)
		info.PctChange = append(info.PctChange, change)
		info.Granularity = append(info.Granularity, v.params.Granularity[index])

		fields := log.Fields{
			"iteration":   iteration,
			"granularity": v.params.Granularity[index],
			"fm_rmse":     fmRMSE,
			"alpha":       alpha,
			"pct_change":  change,
		}
		if v.priorLoss {
			loss := pr.active.Loss(x)
			info.PriorLoss = append(info.PriorLoss, loss)
			fields["prior_loss"] = loss
		}
		pr.entry.WithFields(fields).Info("iteration done")

		metrics.Iterations.Inc()
		metrics.IterationDuration.Observe(time.Since(start).Seconds())
		metrics.FMRMSE.Set(fmRMSE)

		if change < v.params.StopThresholdChangePct {
			info.Converged = true
			break
		}
	}
	pr.entry.WithFields(log.Fields{
		"iterations": info.NumIterations,
		"converged":  info.Converged,
	}).Info("reconstruction done")
	return x, info, nil
}

// iterate updates every subset of part once in random order and returns
// the mean step size.
func (pr *problem) iterate(ctx context.Context, x *volume.Volume, part partition.Partition) (float64, error) {
	var total float64
	for _, s := range pr.rng.Perm(len(part)) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		alpha, err := pr.updateSubset(ctx, x, part[s])
		if err != nil {
			return 0, err
		}
		total += alpha
	}
	return total / float64(len(part)), nil
}

// updateSubset takes one surrogate Newton step on the voxel cylinders of
// pixels and returns the step size.
func (pr *problem) updateSubset(ctx context.Context, x *volume.Volume, pixels []int) (float64, error) {
	invVar := 1 / (pr.sigmaY * pr.sigmaY)

	backProjection, err := pr.model.SparseBackProject(ctx, pr.weightedErr, pixels, 1)
	if err != nil {
		return 0, err
	}
	var fmGradient mat.Dense
	fmGradient.Scale(-invVar, backProjection)

	priorGradient, priorHessian := pr.active.GradientAndHessian(x, pixels)
	var gradient, hessian mat.Dense
	gradient.Add(&fmGradient, priorGradient)
	hessian.Add(pr.hessian.Gather(pixels), priorHessian)

	// Newton direction on the diagonal surrogate
	var delta mat.Dense
	delta.DivElem(&gradient, &hessian)
	delta.Scale(-1, &delta)
	if pr.params.PositivityFlag {
		current := x.Gather(pixels)
		r, c := delta.Dims()
		for i := 0; i < r; i++ {
			for k := 0; k < c; k++ {
				delta.Set(i, k, math.Max(delta.At(i, k), -current.At(i, k)))
			}
		}
	}

	projected, err := pr.model.SparseForwardProject(ctx, &delta, pixels)
	if err != nil {
		return 0, err
	}
	var quadratic float64
	for index, value := range projected.Data {
		quadratic += pr.lambda.Data[index] * value * value
	}
	quadratic *= invVar
	linear := mat.Sum(mulElem(&fmGradient, &delta))
	priorLinear, priorQuadratic := pr.active.LineSearchTerms(x, pixels, &delta)

	alpha := 1.
	if denominator := quadratic + priorQuadratic; denominator > 0 {
		alpha = -(linear + priorLinear) / denominator
	}
	alpha = math.Min(math.Max(alpha, minAlpha), 1)

	x.AddScaledAt(pixels, alpha, &delta)
	floats.AddScaled(pr.err.Data, -alpha, projected.Data)
	floats.Mul(projected.Data, pr.lambda.Data)
	floats.AddScaled(pr.weightedErr.Data, -alpha, projected.Data)
	return alpha, nil
}

// fmRMSE is sqrt(e^T Lambda e / N) / sigma_y.
func (pr *problem) fmRMSE() float64 {
	return math.Sqrt(floats.Dot(pr.err.Data, pr.weightedErr.Data)/float64(len(pr.err.Data))) / pr.sigmaY
}

func mulElem(a, b *mat.Dense) *mat.Dense {
	var res mat.Dense
	res.MulElem(a, b)
	return &res
}
