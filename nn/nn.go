// Package nn implements shift-based batch normalization with both CPU and
// GPU execution.
//
// Shift-based batch normalization replaces the division by the standard
// deviation with a multiplication by a power-of-two reciprocal, so the
// normalization step reduces to a sign-preserving binary shift on fixed-point
// hardware. The estimator quantizes twice:
//   - each centered value is snapped to its nearest power of two before it
//     enters the variance surrogate
//   - the reciprocal standard deviation itself is snapped to a power of two
//
// Layers keep persistent running statistics that are folded in with an
// exponential moving average on every training-mode forward pass. Inference
// reads the stored statistics and never mutates them.
//
// Example usage:
//
//	dense := nn.InitDenseLayer(8, 4, nn.ActivationReLU)
//	norm, err := nn.AppendShiftBatchNorm(&dense, 0, 0)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	network := nn.NewNetwork(batchSize)
//	network.Add(dense)
//	network.Add(norm)
//
//	// Training-mode forward: output from batch statistics, running
//	// statistics updated in place.
//	out, _ := network.ForwardCPU(input, true)
//
//	// Inference: running statistics only, no side effects.
//	out = network.Infer(input)
package nn
