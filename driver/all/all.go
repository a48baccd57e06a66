// Package all registers every bundled provider. Import it for its side
// effects:
//
//	import _ "github.com/gobeaver/vfskit/driver/all"
package all

import (
	_ "github.com/gobeaver/vfskit/driver/archive"
	_ "github.com/gobeaver/vfskit/driver/ftp"
	_ "github.com/gobeaver/vfskit/driver/http"
	_ "github.com/gobeaver/vfskit/driver/local"
	_ "github.com/gobeaver/vfskit/driver/memory"
	_ "github.com/gobeaver/vfskit/driver/s3"
	_ "github.com/gobeaver/vfskit/driver/sftp"
)
