package model

import (
	"fmt"
	"strconv"
)

// PartitionName returns the default name of the partition with the given index.
func PartitionName(index int) string {
	return fmt.Sprintf("partition%d", index)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
