package shared

import "fmt"

// UploadLockKey builds redis keys guarding upload processing.
func UploadLockKey(uploadName string) string {
	return fmt.Sprintf("logistics:upload:%s:lock", uploadName)
}

// DispatchLockKey builds redis keys guarding dispatch item imports.
func DispatchLockKey(dispatchName string) string {
	return fmt.Sprintf("logistics:dispatch:%s:lock", dispatchName)
}

// PlanLockKey builds redis keys serialising capacity checks on a load plan.
func PlanLockKey(referenceNo string) string {
	return fmt.Sprintf("logistics:load_plan:%s:lock", referenceNo)
}
