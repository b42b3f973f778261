// Package pagination implements the cursor that walks a paginated API
// collection in strictly increasing offset order.
//
// Three styles are supported, matching the endpoint registry:
//
//   - none: a single request, then done
//   - offset: offset/per_page parameters, offset advancing by the count
//     of records actually returned
//   - page: 1-based page/per_page parameters
//
// A cursor never issues requests itself; the record processor asks it
// for the next parameter set, performs the request through the
// transport, and reports back how many records arrived. At most one
// page is ever in flight per cursor.
package pagination
