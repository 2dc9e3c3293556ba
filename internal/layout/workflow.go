package layout

import "fmt"

// Workflow identifies a derivatives subtree. Folders are rendered as
// workflow_id-<N>_type-<M>_name-<name>, except for the raw conversion
// workflow which keeps the legacy rawdata_bv folder name.
type Workflow struct {
	ID   int
	Type int
	Name string
}

// The standard workflow chain for a dataset. IDs and types follow the
// numbering used by the derivative folders this tool produces and reads.
var (
	RawConversion     = Workflow{ID: 0, Type: 0, Name: "rawdata-bv"}
	AnatPreprocessing = Workflow{ID: 1, Type: 2, Name: "anat-preprocessing"}
	AnatNormalization = Workflow{ID: 2, Type: 3, Name: "anat-normalization"}
	FuncPreprocessing = Workflow{ID: 3, Type: 1, Name: "func-preprocessing"}
	Coregistration    = Workflow{ID: 4, Type: 4, Name: "func-to-anat-coreg"}
	FuncNormalization = Workflow{ID: 5, Type: 5, Name: "func-normalization"}
	VTCPreprocessing  = Workflow{ID: 6, Type: 9, Name: "vtc-preprocessing"}
)

// rawConversionFolder is the conventional folder name for unprocessed
// converted files under derivatives.
const rawConversionFolder = "rawdata_bv"

// Folder renders the derivatives folder name for the workflow.
func (w Workflow) Folder() string {
	if w == RawConversion {
		return rawConversionFolder
	}
	return fmt.Sprintf("workflow_id-%d_type-%d_name-%s", w.ID, w.Type, w.Name)
}

// ParseWorkflowFolder recovers a Workflow from a derivatives folder name.
// It returns false for folder names that do not follow the convention.
func ParseWorkflowFolder(folder string) (Workflow, bool) {
	if folder == rawConversionFolder {
		return RawConversion, true
	}
	var w Workflow
	n, err := fmt.Sscanf(folder, "workflow_id-%d_type-%d_name-%s", &w.ID, &w.Type, &w.Name)
	if err != nil || n != 3 {
		return Workflow{}, false
	}
	return w, true
}
