// Package errors provides structured error handling for obplan.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration and topology errors
//   - 2XX: Disk and directory errors
//   - 3XX: Network, port and remote execution errors
//   - 4XX: Capacity and host limit errors
//   - 5XX: Internal errors and degraded facts
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates disk and directory errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryCapacity indicates resource capacity and host limit errors.
	CategoryCapacity Category = "CAPACITY"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates the node cannot be started safely.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the check failed.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound  = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid   = "ERR_102_CONFIG_INVALID"
	ErrCodeTopologyInvalid = "ERR_103_TOPOLOGY_INVALID"
	ErrCodeLocked          = "ERR_104_DEPLOYMENT_LOCKED"

	// Disk errors (200-299)
	ErrCodeDiskNotEnough  = "ERR_201_DISK_NOT_ENOUGH"
	ErrCodeDiskShared     = "ERR_202_DATA_LOG_SAME_DISK"
	ErrCodeDirNotEmpty    = "ERR_203_DIR_NOT_EMPTY"
	ErrCodeDirNotWritable = "ERR_204_DIR_NOT_WRITABLE"
	ErrCodeDiskInfeasible = "ERR_205_DISK_PLAN_INFEASIBLE"

	// Network errors (300-399)
	ErrCodePortConflict    = "ERR_301_PORT_CONFLICT"
	ErrCodePortInUse       = "ERR_302_PORT_IN_USE"
	ErrCodeDeviceNotFound  = "ERR_303_DEVICE_NOT_FOUND"
	ErrCodeDeviceMismatch  = "ERR_304_DEVICE_LOCALITY_MISMATCH"
	ErrCodeHostUnreachable = "ERR_305_HOST_UNREACHABLE"
	ErrCodeClockSkew       = "ERR_306_CLOCK_SKEW"
	ErrCodeRemoteExec      = "ERR_307_REMOTE_EXEC"

	// Capacity errors (400-499)
	ErrCodeMemoryNotEnough  = "ERR_401_MEMORY_NOT_ENOUGH"
	ErrCodeMemoryCached     = "ERR_402_MEMORY_NOT_ENOUGH_CACHED"
	ErrCodeMemoryFree       = "ERR_403_MEMORY_NOT_ENOUGH_FREE"
	ErrCodeSystemMemory     = "ERR_404_SYSTEM_MEMORY"
	ErrCodeProductionMemory = "ERR_405_PRODUCTION_MEMORY"
	ErrCodeMemoryInfeasible = "ERR_406_MEMORY_PLAN_INFEASIBLE"
	ErrCodeCPU              = "ERR_407_CPU_COUNT"
	ErrCodeUlimit           = "ERR_408_ULIMIT"
	ErrCodeKernel           = "ERR_409_KERNEL_PARAMETER"
	ErrCodeAIO              = "ERR_410_AIO_NOT_ENOUGH"
	ErrCodeTenantResource   = "ERR_411_TENANT_RESOURCE"
	ErrCodeInvalidInput     = "ERR_412_INVALID_INPUT"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeFactUnavailable = "ERR_502_FACT_UNAVAILABLE"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	numStr := code[4:7]

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryCapacity
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodePortConflict, ErrCodeMemoryNotEnough, ErrCodeDiskNotEnough,
		ErrCodeDiskInfeasible, ErrCodeMemoryInfeasible, ErrCodeClockSkew,
		ErrCodeDeviceNotFound:
		return SeverityFatal
	case ErrCodeFactUnavailable, ErrCodeDiskShared:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRemoteExec, ErrCodeHostUnreachable:
		return true
	default:
		return false
	}
}
