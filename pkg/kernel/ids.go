// Package kernel holds the tiny shared types every bounded context agrees on.
package kernel

// RoleID identifies the stored role record an IAM principal is linked to.
type RoleID string

func NewRoleID(id string) RoleID { return RoleID(id) }
func (r RoleID) String() string  { return string(r) }
func (r RoleID) IsEmpty() bool   { return string(r) == "" }

// BoxID identifies a safe-deposit box (the broker's unit of secret storage).
type BoxID string

func NewBoxID(id string) BoxID { return BoxID(id) }
func (b BoxID) String() string { return string(b) }
func (b BoxID) IsEmpty() bool  { return string(b) == "" }

// Region is an AWS region name such as "us-west-2".
type Region string

func NewRegion(r string) Region { return Region(r) }
func (r Region) String() string { return string(r) }
func (r Region) IsEmpty() bool  { return string(r) == "" }
