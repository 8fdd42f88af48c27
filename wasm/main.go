//go:build js && wasm
// +build js,wasm

package main

import (
	"encoding/json"
	"fmt"
	"syscall/js"

	"github.com/openfluke/shiftnorm/nn"
)

// Global state for the loaded network
var loadedNetwork *nn.Network

// createNetwork builds a weightless network from a JSON config and fills
// in fresh dense weights
func createNetwork() js.Func {
	return js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) < 1 {
			return jsError("Missing config argument")
		}

		network, err := nn.BuildNetworkFromJSON(args[0].String())
		if err != nil {
			return jsError(fmt.Sprintf("Failed to create network: %v", err))
		}
		network.InitializeWeights()

		loadedNetwork = network
		return jsSuccess(map[string]interface{}{
			"total_layers": network.TotalLayers(),
			"batch_size":   network.BatchSize,
			"message":      "Network created successfully",
		})
	})
}

// loadModel restores a network with its weights and running statistics
// from a saved bundle string
func loadModel() js.Func {
	return js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) < 2 {
			return jsError("Missing bundle or model id argument")
		}

		network, err := nn.LoadModelFromString(args[0].String(), args[1].String())
		if err != nil {
			return jsError(fmt.Sprintf("Failed to load model: %v", err))
		}

		loadedNetwork = network
		return jsSuccess(map[string]interface{}{
			"total_layers": network.TotalLayers(),
			"batch_size":   network.BatchSize,
			"message":      "Model loaded successfully",
		})
	})
}

// saveModel serializes the loaded network to a bundle string
func saveModel() js.Func {
	return js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if loadedNetwork == nil {
			return jsError("No network loaded")
		}
		if len(args) < 1 {
			return jsError("Missing model id argument")
		}

		jsonStr, err := loadedNetwork.SaveModelToString(args[0].String())
		if err != nil {
			return jsError(fmt.Sprintf("Failed to save model: %v", err))
		}
		return js.ValueOf(jsonStr)
	})
}

// forward runs a forward pass. The second argument selects training mode,
// which updates the running statistics of normalization layers.
func forward() js.Func {
	return js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if loadedNetwork == nil {
			return jsError("No network loaded")
		}
		if len(args) < 1 {
			return jsError("Missing input argument")
		}

		input, err := floatsFromJS(args[0])
		if err != nil {
			return jsError(err.Error())
		}

		training := len(args) > 1 && args[1].Truthy()
		output, _ := loadedNetwork.ForwardCPU(input, training)

		outJSON, _ := json.Marshal(output)
		return jsSuccess(map[string]interface{}{
			"output": json.RawMessage(outJSON),
		})
	})
}

// infer runs a deterministic forward pass
func infer() js.Func {
	return js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if loadedNetwork == nil {
			return jsError("No network loaded")
		}
		if len(args) < 1 {
			return jsError("Missing input argument")
		}

		input, err := floatsFromJS(args[0])
		if err != nil {
			return jsError(err.Error())
		}

		output := loadedNetwork.Infer(input)
		outJSON, _ := json.Marshal(output)
		return jsSuccess(map[string]interface{}{
			"output": json.RawMessage(outJSON),
		})
	})
}

// networkInfo reports the layer stack of the loaded network
func networkInfo() js.Func {
	return js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if loadedNetwork == nil {
			return jsError("No network loaded")
		}

		layers := make([]map[string]interface{}, 0, loadedNetwork.TotalLayers())
		for i := 0; i < loadedNetwork.TotalLayers(); i++ {
			layer := loadedNetwork.GetLayer(i)
			entry := map[string]interface{}{"type": int(layer.Type)}
			if layer.Type == nn.LayerShiftBatchNorm {
				entry["input_shape"] = layer.InputShape
				entry["axes"] = layer.Axes
			} else {
				entry["input_size"] = layer.InputSize
				entry["output_size"] = layer.OutputSize
			}
			layers = append(layers, entry)
		}

		return jsSuccess(map[string]interface{}{
			"batch_size":   loadedNetwork.BatchSize,
			"total_layers": loadedNetwork.TotalLayers(),
			"layers":       layers,
		})
	})
}

// floatsFromJS converts a JavaScript number array to a float32 slice
func floatsFromJS(v js.Value) ([]float32, error) {
	if v.Type() != js.TypeObject {
		return nil, fmt.Errorf("expected an array of numbers")
	}
	length := v.Get("length").Int()
	out := make([]float32, length)
	for i := 0; i < length; i++ {
		out[i] = float32(v.Index(i).Float())
	}
	return out, nil
}

func jsSuccess(data map[string]interface{}) js.Value {
	data["success"] = true
	jsonData, _ := json.Marshal(data)
	return js.ValueOf(string(jsonData))
}

func jsError(message string) js.Value {
	data := map[string]interface{}{
		"success": false,
		"error":   message,
	}
	jsonData, _ := json.Marshal(data)
	return js.ValueOf(string(jsonData))
}

func main() {
	fmt.Println("Shift batch normalization WASM module initialized")

	js.Global().Set("CreateShiftNetwork", createNetwork())
	js.Global().Set("LoadShiftModel", loadModel())
	js.Global().Set("SaveShiftModel", saveModel())
	js.Global().Set("ShiftForward", forward())
	js.Global().Set("ShiftInfer", infer())
	js.Global().Set("ShiftNetworkInfo", networkInfo())

	fmt.Println("WASM API ready. Available functions:")
	fmt.Println("  - CreateShiftNetwork(jsonConfig) - Build a network from a config string")
	fmt.Println("  - LoadShiftModel(bundleJSON, modelID) - Restore a saved model")
	fmt.Println("  - SaveShiftModel(modelID) - Serialize the loaded model")
	fmt.Println("  - ShiftForward(inputArray, training) - Forward pass, training updates statistics")
	fmt.Println("  - ShiftInfer(inputArray) - Deterministic forward pass")
	fmt.Println("  - ShiftNetworkInfo() - Describe the layer stack")

	// Keep the Go program running
	select {}
}
