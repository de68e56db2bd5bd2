// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

// Unit is a type not containing any value.
//
// Use this type to construct [Func] that take no argument.
type Unit struct{}
