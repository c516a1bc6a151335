// Package rbac resolves role permissions and enforces the role authority
// order.
//
// A role's effective permission set is the union of a static floor table
// (keyed by role name) and the permission strings stored on the role
// record. The union is deliberate policy: stored grants only ever add
// capabilities beyond the floor, they cannot remove default ones.
//
// Authority levels form a total order over role names
// (housekeeping < receptionist < manager < admin) used for minimum-rank
// gates and escalation checks. Escalation is strict: an actor may only
// assign roles of strictly lower authority than their own, so the top role
// cannot be granted through this path at all.
package rbac
