package caprpc

import "github.com/joeycumines/go-caprpc/internal/future"

// Loop is the event loop a [LocalClient] defers dispatch through. It is a
// re-export of [future.Loop]: a single Submit method, matching
// inprocgrpc's own narrow Loop interface. [WrapEventLoop] adapts
// *eventloop.Loop (github.com/joeycumines/go-eventloop) to this interface;
// any other source of deferred evaluation works too.
type Loop = future.Loop
