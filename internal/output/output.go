/*
Copyright © 2026 GIP Pix <https://pix.fr>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package output provides shared output utilities for circletron CLI commands.
package output

import (
	"os"

	"github.com/spf13/viper"

	"github.com/1024pix/circletron/fs"
)

// Document outputs a generated document to stdout or a file.
// If viper's "output" flag is set, writes to that file; otherwise prints to stdout.
func Document(osfs fs.FileSystem, data []byte) error {
	if outputPath := viper.GetString("output"); outputPath != "" {
		return osfs.WriteFile(outputPath, data, 0644)
	}
	_, err := os.Stdout.Write(data)
	return err
}
