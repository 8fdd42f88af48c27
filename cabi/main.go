package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"encoding/json"
	"fmt"
	"unsafe"

	"github.com/openfluke/shiftnorm/nn"
)

// Helper functions for JSON responses
func errJSON(msg string) *C.char {
	return C.CString(fmt.Sprintf(`{"error": "%s"}`, msg))
}

// Global network instance (simplified single-network API)
var currentNetwork *nn.Network

//export CreateShiftNetwork
func CreateShiftNetwork(jsonConfig *C.char) *C.char {
	config := C.GoString(jsonConfig)

	network, err := nn.BuildNetworkFromJSON(config)
	if err != nil {
		return errJSON(fmt.Sprintf("failed to create network: %v", err))
	}

	network.InitializeWeights()
	currentNetwork = network

	return C.CString(`{"status": "success", "message": "network created"}`)
}

//export LoadShiftModel
func LoadShiftModel(bundleJSON *C.char, modelID *C.char) *C.char {
	network, err := nn.LoadModelFromString(C.GoString(bundleJSON), C.GoString(modelID))
	if err != nil {
		return errJSON(fmt.Sprintf("failed to load model: %v", err))
	}

	currentNetwork = network
	return C.CString(`{"status": "success", "message": "model loaded"}`)
}

//export SaveShiftModel
func SaveShiftModel(modelID *C.char) *C.char {
	if currentNetwork == nil {
		return C.CString(`{"error": "no network created"}`)
	}

	jsonStr, err := currentNetwork.SaveModelToString(C.GoString(modelID))
	if err != nil {
		return errJSON(fmt.Sprintf("%v", err))
	}

	return C.CString(jsonStr)
}

//export ShiftForward
func ShiftForward(inputs *C.float, length C.int, training C.int) *C.char {
	if currentNetwork == nil {
		return C.CString(`{"error": "no network created"}`)
	}

	// Convert C array to Go slice
	inputSlice := (*[1 << 30]float32)(unsafe.Pointer(inputs))[:length:length]
	goInputs := make([]float32, length)
	copy(goInputs, inputSlice)

	// Forward pass, training mode updates the running statistics
	output, _ := currentNetwork.ForwardCPU(goInputs, training != 0)

	result, err := json.Marshal(output)
	if err != nil {
		return errJSON(fmt.Sprintf("%v", err))
	}

	return C.CString(string(result))
}

//export ShiftInfer
func ShiftInfer(inputs *C.float, length C.int) *C.char {
	return ShiftForward(inputs, length, 0)
}

//export ShiftNetworkInfo
func ShiftNetworkInfo() *C.char {
	if currentNetwork == nil {
		return C.CString(`{"error": "no network created"}`)
	}

	layers := make([]map[string]interface{}, 0, currentNetwork.TotalLayers())
	for i := 0; i < currentNetwork.TotalLayers(); i++ {
		layer := currentNetwork.GetLayer(i)
		entry := map[string]interface{}{
			"type": int(layer.Type),
		}
		if layer.Type == nn.LayerShiftBatchNorm {
			entry["input_shape"] = layer.InputShape
			entry["axes"] = layer.Axes
		} else {
			entry["input_size"] = layer.InputSize
			entry["output_size"] = layer.OutputSize
		}
		layers = append(layers, entry)
	}

	info := map[string]interface{}{
		"batch_size":   currentNetwork.BatchSize,
		"total_layers": currentNetwork.TotalLayers(),
		"layers":       layers,
	}

	infoJSON, _ := json.Marshal(info)
	return C.CString(string(infoJSON))
}

//export FreeShiftString
func FreeShiftString(str *C.char) {
	C.free(unsafe.Pointer(str))
}

func main() {}
