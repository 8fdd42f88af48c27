package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"
)

// Activation codes baked into generated shaders
const (
	ActNone      = 0
	ActReLU      = 1
	ActLeakyReLU = 2
	ActSigmoid   = 3
	ActTanh      = 4
	ActSoftplus  = 5
)

// ShiftBatchNormSpec describes a shift batch normalization layer in the
// canonical [batch, features, inner...] layout, where statistics are kept
// per feature channel and every other axis is reduced over.
type ShiftBatchNormSpec struct {
	Features  int // size of the feature axis
	Inner     int // product of the axes after the feature axis, 1 for [batch, features]
	BatchSize int
	Epsilon   float32
	Alpha     float32 // moving-average coefficient applied on the CPU side

	Activation int // ActXXX constant

	// Running statistics, length Features. The layer mutates these slices
	// in place on training passes, so sharing them with CPU-side layer
	// state keeps both views consistent.
	Mean []float32
	Std  []float32
}

// ShiftBatchNormLayer holds the GPU resources for one normalization layer.
// Two pipelines are compiled: the inference kernel normalizes with the
// uploaded running statistics, the training kernel estimates power-of-two
// batch statistics, writes them to readback buffers and normalizes with
// them. The exponential moving average itself runs on the CPU after the
// batch statistics are read back.
type ShiftBatchNormLayer struct {
	Spec ShiftBatchNormSpec

	inferPipeline *wgpu.ComputePipeline
	trainPipeline *wgpu.ComputePipeline
	inferBind     *wgpu.BindGroup
	trainBind     *wgpu.BindGroup

	InputBuffer     *wgpu.Buffer
	OutputBuffer    *wgpu.Buffer
	MeanBuffer      *wgpu.Buffer // running statistics, read by the inference kernel
	StdBuffer       *wgpu.Buffer
	BatchMeanBuffer *wgpu.Buffer // batch statistics, written by the training kernel
	BatchStdBuffer  *wgpu.Buffer
}

// activationWGSL returns the body of the WGSL activate function
func activationWGSL(code int) string {
	switch code {
	case ActReLU:
		return "return max(x, 0.0);"
	case ActLeakyReLU:
		return "return select(0.1 * x, x, x >= 0.0);"
	case ActSigmoid:
		return "return 1.0 / (1.0 + exp(-x));"
	case ActTanh:
		return "return tanh(x);"
	case ActSoftplus:
		return "return log(1.0 + exp(x));"
	default:
		return "return x;"
	}
}

// GenerateShader creates the WGSL for the inference kernel. One invocation
// handles one feature channel and loops over the batch and inner axes.
func (l *ShiftBatchNormLayer) GenerateShader() string {
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> input : array<f32>;
		@group(0) @binding(1) var<storage, read_write> output : array<f32>;
		@group(0) @binding(2) var<storage, read> mean : array<f32>;
		@group(0) @binding(3) var<storage, read> inv_std : array<f32>;

		const C: u32 = %du;
		const S: u32 = %du;
		const B: u32 = %du;

		fn activate(x: f32) -> f32 {
			%s
		}

		@compute @workgroup_size(1)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let c = gid.x;
			if (c >= C) {
				return;
			}

			let m = mean[c];
			let s = inv_std[c];

			for (var b: u32 = 0u; b < B; b++) {
				for (var k: u32 = 0u; k < S; k++) {
					let idx = (b * C + c) * S + k;
					output[idx] = activate((input[idx] - m) * s);
				}
			}
		}
	`, l.Spec.Features, l.Spec.Inner, l.Spec.BatchSize, activationWGSL(l.Spec.Activation))
}

// GenerateTrainingShader creates the WGSL for the training kernel. Each
// invocation estimates its channel's mean and power-of-two reciprocal std,
// publishes them for readback and normalizes with the batch values.
// Centered values of exactly zero contribute nothing to the variance
// surrogate, matching the CPU estimator.
func (l *ShiftBatchNormLayer) GenerateTrainingShader() string {
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> input : array<f32>;
		@group(0) @binding(1) var<storage, read_write> output : array<f32>;
		@group(0) @binding(2) var<storage, read_write> batch_mean : array<f32>;
		@group(0) @binding(3) var<storage, read_write> batch_std : array<f32>;

		const C: u32 = %du;
		const S: u32 = %du;
		const B: u32 = %du;
		const EPS: f32 = %f;

		fn activate(x: f32) -> f32 {
			%s
		}

		@compute @workgroup_size(1)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let c = gid.x;
			if (c >= C) {
				return;
			}
			let n = f32(B * S);

			var sum: f32 = 0.0;
			for (var b: u32 = 0u; b < B; b++) {
				for (var k: u32 = 0u; k < S; k++) {
					sum += input[(b * C + c) * S + k];
				}
			}
			let m = sum / n;

			var acc: f32 = 0.0;
			for (var b: u32 = 0u; b < B; b++) {
				for (var k: u32 = 0u; k < S; k++) {
					let d = input[(b * C + c) * S + k] - m;
					if (d != 0.0) {
						let a = abs(d);
						acc += a * exp2(round(log2(a)));
					}
				}
			}
			let raw = 1.0 / sqrt(acc / n + EPS);
			let s = exp2(round(log2(raw)));

			batch_mean[c] = m;
			batch_std[c] = s;

			for (var b: u32 = 0u; b < B; b++) {
				for (var k: u32 = 0u; k < S; k++) {
					let idx = (b * C + c) * S + k;
					output[idx] = activate((input[idx] - m) * s);
				}
			}
		}
	`, l.Spec.Features, l.Spec.Inner, l.Spec.BatchSize, l.Spec.Epsilon, activationWGSL(l.Spec.Activation))
}

func (l *ShiftBatchNormLayer) AllocateBuffers(ctx *Context, labelPrefix string) error {
	var err error

	total := l.Spec.BatchSize * l.Spec.Features * l.Spec.Inner
	storage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc

	l.InputBuffer, err = NewEmptyBuffer(labelPrefix+"_In", total, storage)
	if err != nil {
		return err
	}

	l.OutputBuffer, err = NewEmptyBuffer(labelPrefix+"_Out", total, storage)
	if err != nil {
		return err
	}

	l.MeanBuffer, err = NewFloatBuffer(l.Spec.Mean, storage)
	if err != nil {
		return err
	}

	l.StdBuffer, err = NewFloatBuffer(l.Spec.Std, storage)
	if err != nil {
		return err
	}

	l.BatchMeanBuffer, err = NewEmptyBuffer(labelPrefix+"_BatchMean", l.Spec.Features, storage)
	if err != nil {
		return err
	}

	l.BatchStdBuffer, err = NewEmptyBuffer(labelPrefix+"_BatchStd", l.Spec.Features, storage)
	return err
}

func (l *ShiftBatchNormLayer) Compile(ctx *Context, labelPrefix string) error {
	module, err := ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          labelPrefix + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: l.GenerateShader()},
	})
	if err != nil {
		return err
	}

	l.inferPipeline, err = ctx.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   labelPrefix + "_Pipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: module, EntryPoint: "main"},
	})
	if err != nil {
		return err
	}

	trainModule, err := ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          labelPrefix + "_TrainShader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: l.GenerateTrainingShader()},
	})
	if err != nil {
		return err
	}

	l.trainPipeline, err = ctx.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   labelPrefix + "_TrainPipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: trainModule, EntryPoint: "main"},
	})
	return err
}

func (l *ShiftBatchNormLayer) CreateBindGroups(ctx *Context, labelPrefix string) error {
	var err error

	l.inferBind, err = ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  labelPrefix + "_Bind",
		Layout: l.inferPipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: l.InputBuffer, Size: l.InputBuffer.GetSize()},
			{Binding: 1, Buffer: l.OutputBuffer, Size: l.OutputBuffer.GetSize()},
			{Binding: 2, Buffer: l.MeanBuffer, Size: l.MeanBuffer.GetSize()},
			{Binding: 3, Buffer: l.StdBuffer, Size: l.StdBuffer.GetSize()},
		},
	})
	if err != nil {
		return err
	}

	l.trainBind, err = ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  labelPrefix + "_TrainBind",
		Layout: l.trainPipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: l.InputBuffer, Size: l.InputBuffer.GetSize()},
			{Binding: 1, Buffer: l.OutputBuffer, Size: l.OutputBuffer.GetSize()},
			{Binding: 2, Buffer: l.BatchMeanBuffer, Size: l.BatchMeanBuffer.GetSize()},
			{Binding: 3, Buffer: l.BatchStdBuffer, Size: l.BatchStdBuffer.GetSize()},
		},
	})
	return err
}

// Build allocates buffers, compiles both pipelines and creates the bind
// groups. Zero spec fields fall back to their defaults first.
func (l *ShiftBatchNormLayer) Build(labelPrefix string) error {
	ctx, err := GetContext()
	if err != nil {
		return err
	}

	if l.Spec.BatchSize < 1 {
		l.Spec.BatchSize = 1
	}
	if l.Spec.Inner < 1 {
		l.Spec.Inner = 1
	}
	if l.Spec.Epsilon == 0 {
		l.Spec.Epsilon = 1e-5
	}
	if l.Spec.Alpha == 0 {
		l.Spec.Alpha = 0.125
	}
	if len(l.Spec.Mean) == 0 {
		l.Spec.Mean = make([]float32, l.Spec.Features)
	}
	if len(l.Spec.Std) == 0 {
		l.Spec.Std = make([]float32, l.Spec.Features)
		for i := range l.Spec.Std {
			l.Spec.Std[i] = 1
		}
	}

	if err := l.AllocateBuffers(ctx, labelPrefix); err != nil {
		return fmt.Errorf("failed to allocate buffers: %w", err)
	}
	if err := l.Compile(ctx, labelPrefix); err != nil {
		return fmt.Errorf("failed to compile pipelines: %w", err)
	}
	if err := l.CreateBindGroups(ctx, labelPrefix); err != nil {
		return fmt.Errorf("failed to create bind groups: %w", err)
	}
	return nil
}

// UploadStats refreshes the GPU copy of the running statistics
func (l *ShiftBatchNormLayer) UploadStats(ctx *Context) {
	ctx.Queue.WriteBuffer(l.MeanBuffer, 0, wgpu.ToBytes(l.Spec.Mean))
	ctx.Queue.WriteBuffer(l.StdBuffer, 0, wgpu.ToBytes(l.Spec.Std))
}

// DownloadStats reads the running statistics back from the GPU
func (l *ShiftBatchNormLayer) DownloadStats() ([]float32, []float32, error) {
	mean, err := ReadBuffer(l.MeanBuffer, l.Spec.Features)
	if err != nil {
		return nil, nil, err
	}
	std, err := ReadBuffer(l.StdBuffer, l.Spec.Features)
	if err != nil {
		return nil, nil, err
	}
	return mean, std, nil
}

// Dispatch records the compute pass, one workgroup per feature channel
func (l *ShiftBatchNormLayer) Dispatch(pass *wgpu.ComputePassEncoder, training bool) {
	if training {
		pass.SetPipeline(l.trainPipeline)
		pass.SetBindGroup(0, l.trainBind, nil)
	} else {
		pass.SetPipeline(l.inferPipeline)
		pass.SetBindGroup(0, l.inferBind, nil)
	}
	pass.DispatchWorkgroups(uint32(l.Spec.Features), 1, 1)
}

// Forward uploads the input, runs the selected kernel and returns the
// output. A training pass additionally reads the batch statistics back,
// folds them into Spec.Mean and Spec.Std in place, exactly once, and
// refreshes the GPU copy of the running statistics.
func (l *ShiftBatchNormLayer) Forward(input []float32, training bool) ([]float32, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	total := l.Spec.BatchSize * l.Spec.Features * l.Spec.Inner
	if len(input) != total {
		return nil, fmt.Errorf("input length %d does not match layer size %d", len(input), total)
	}

	c.Queue.WriteBuffer(l.InputBuffer, 0, wgpu.ToBytes(input))

	encoder, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create command encoder: %v", err)
	}
	pass := encoder.BeginComputePass(nil)
	l.Dispatch(pass, training)
	pass.End()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to finish command: %v", err)
	}
	c.Queue.Submit(cmd)

	output, err := ReadBuffer(l.OutputBuffer, total)
	if err != nil {
		return nil, err
	}

	if training {
		if err := l.foldBatchStats(c); err != nil {
			return nil, err
		}
	}

	return output, nil
}

// foldBatchStats applies the exponential moving average to the running
// statistics using the batch values the training kernel just wrote
func (l *ShiftBatchNormLayer) foldBatchStats(c *Context) error {
	batchMean, err := ReadBuffer(l.BatchMeanBuffer, l.Spec.Features)
	if err != nil {
		return err
	}
	batchStd, err := ReadBuffer(l.BatchStdBuffer, l.Spec.Features)
	if err != nil {
		return err
	}

	alpha := l.Spec.Alpha
	for i := range l.Spec.Mean {
		l.Spec.Mean[i] = (1-alpha)*l.Spec.Mean[i] + alpha*batchMean[i]
		l.Spec.Std[i] = (1-alpha)*l.Spec.Std[i] + alpha*batchStd[i]
	}

	l.UploadStats(c)
	return nil
}

func (l *ShiftBatchNormLayer) Cleanup() {
	if l.InputBuffer != nil {
		l.InputBuffer.Destroy()
	}
	if l.OutputBuffer != nil {
		l.OutputBuffer.Destroy()
	}
	if l.MeanBuffer != nil {
		l.MeanBuffer.Destroy()
	}
	if l.StdBuffer != nil {
		l.StdBuffer.Destroy()
	}
	if l.BatchMeanBuffer != nil {
		l.BatchMeanBuffer.Destroy()
	}
	if l.BatchStdBuffer != nil {
		l.BatchStdBuffer.Destroy()
	}
	if l.inferPipeline != nil {
		l.inferPipeline.Release()
	}
	if l.trainPipeline != nil {
		l.trainPipeline.Release()
	}
	if l.inferBind != nil {
		l.inferBind.Release()
	}
	if l.trainBind != nil {
		l.trainBind.Release()
	}
}
