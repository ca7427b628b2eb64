package shared

// Advisory lock classes. Reconciliation locks on the student id so the
// prior-unpaid check and the status write cannot interleave for sibling
// dues of the same student.
const (
	LockClassStudentLedger int32 = 7101
)
