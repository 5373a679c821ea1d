package model

// StepContribution accumulates the effect of one chunk. It is folded into the owning
// StepExecution only when the chunk commits, so a rolled back chunk leaves no trace.
type StepContribution struct {
	ReadCount        int64
	WriteCount       int64
	FilterCount      int64
	ReadSkipCount    int64
	ProcessSkipCount int64
	WriteSkipCount   int64
	ExitStatus       ExitStatus
}

func (c *StepContribution) IncrementReadCount()         { c.ReadCount++ }
func (c *StepContribution) IncrementWriteCount(n int64) { c.WriteCount += n }
func (c *StepContribution) IncrementFilterCount()       { c.FilterCount++ }
func (c *StepContribution) IncrementReadSkipCount()     { c.ReadSkipCount++ }
func (c *StepContribution) IncrementProcessSkipCount()  { c.ProcessSkipCount++ }
func (c *StepContribution) IncrementWriteSkipCount()    { c.WriteSkipCount++ }

// SkipCount is the total of read, process and write skips.
func (c *StepContribution) SkipCount() int64 {
	return c.ReadSkipCount + c.ProcessSkipCount + c.WriteSkipCount
}

// Merge adds other's counters to c.
func (c *StepContribution) Merge(other *StepContribution) {
	if other == nil {
		return
	}
	c.ReadCount += other.ReadCount
	c.WriteCount += other.WriteCount
	c.FilterCount += other.FilterCount
	c.ReadSkipCount += other.ReadSkipCount
	c.ProcessSkipCount += other.ProcessSkipCount
	c.WriteSkipCount += other.WriteSkipCount
	c.ExitStatus = c.ExitStatus.And(other.ExitStatus)
}

// String returns a summary for logs.
func (c *StepContribution) String() string {
	return "StepContribution{read=" + itoa(c.ReadCount) + ", write=" + itoa(c.WriteCount) +
		", filter=" + itoa(c.FilterCount) + ", skips=" + itoa(c.SkipCount()) + "}"
}
